package reconciler

import "github.com/portside/portside/models"

// matchByID matches list entries by stable instance id.
func matchByID(id string) func(models.Instance) bool {
	return func(entry models.Instance) bool {
		return entry.ID == id
	}
}

// matchByContainerID matches list entries by container id. The edit
// operation addresses its views this way because its record key is the
// container id, which the operation itself replaces.
func matchByContainerID(containerID string) func(models.Instance) bool {
	return func(entry models.Instance) bool {
		return entry.ContainerID == containerID
	}
}

// replaceEntry removes entries matched by match and appends inst. Other
// entries are preserved; order within the list is not significant.
func replaceEntry(list []models.Instance, inst *models.Instance, match func(models.Instance) bool) []models.Instance {
	updated := make([]models.Instance, 0, len(list)+1)
	for _, entry := range list {
		if !match(entry) {
			updated = append(updated, entry)
		}
	}
	return append(updated, *inst)
}

// saveViews writes the canonical record under recordKey and rewrites the
// owner's list and the global list, replacing the entry picked out by
// match. The three writes run in sequence with no surrounding
// transaction: a failure part-way leaves earlier writes in place, and
// the next successful mutation converges the views again.
func (r *Reconciler) saveViews(recordKey string, inst *models.Instance, match func(models.Instance) bool) error {
	if err := r.store.SaveInstance(recordKey, inst); err != nil {
		return err
	}

	userList, err := r.store.UserInstances(inst.UserID)
	if err != nil {
		return err
	}
	if err := r.store.SaveUserInstances(inst.UserID, replaceEntry(userList, inst, match)); err != nil {
		return err
	}

	globalList, err := r.store.GlobalInstances()
	if err != nil {
		return err
	}
	return r.store.SaveGlobalInstances(replaceEntry(globalList, inst, match))
}
