package store

import (
	"encoding/json"
	"fmt"

	"github.com/portside/portside/models"
)

// GlobalInstancesKey is the key of the global instance list.
const GlobalInstancesKey = "instances"

// InstanceKey returns the canonical record key for an instance id (or,
// for edit-addressed records, a container id).
func InstanceKey(id string) string {
	return id + "_instance"
}

// UserInstancesKey returns the key of a user's instance list.
func UserInstancesKey(userID string) string {
	return userID + "_instances"
}

// CollaboratorsKey returns the key of a container's collaborator list.
func CollaboratorsKey(containerID string) string {
	return containerID + "_collaborators"
}

// instanceDoc mirrors models.Instance with an optional suspended flag so
// that records written before the flag existed can be detected on read.
type instanceDoc struct {
	models.Instance
	SuspendedFlag *bool `json:"suspended"`
}

// GetInstance returns the instance stored under id.
//
// Records missing the suspended flag are normalized: the flag is treated
// as false and persisted back on first read, so later readers see an
// explicit value.
func (s *Store) GetInstance(id string) (*models.Instance, error) {
	raw, err := s.getRaw(InstanceKey(id))
	if err != nil {
		return nil, err
	}

	var doc instanceDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode instance %s: %w", id, err)
	}

	inst := doc.Instance
	if doc.SuspendedFlag == nil {
		inst.Suspended = false
		if err := s.SaveInstance(id, &inst); err != nil {
			return nil, fmt.Errorf("failed to persist suspended flag for %s: %w", id, err)
		}
		s.debugLog("store: normalized missing suspended flag on instance %s", id)
	} else {
		inst.Suspended = *doc.SuspendedFlag
	}

	return &inst, nil
}

// SaveInstance writes the canonical instance record under id. The key id
// is passed separately because the edit operation re-keys a record from
// the old container id to the new one.
func (s *Store) SaveInstance(id string, inst *models.Instance) error {
	return s.putJSON(InstanceKey(id), inst)
}

// DeleteInstance removes the canonical record stored under id.
func (s *Store) DeleteInstance(id string) error {
	return s.deleteKey(InstanceKey(id))
}

// UserInstances returns the instance list of a user. A missing key is an
// empty list.
func (s *Store) UserInstances(userID string) ([]models.Instance, error) {
	var list []models.Instance
	if err := s.getJSON(UserInstancesKey(userID), &list); err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

// SaveUserInstances replaces the instance list of a user.
func (s *Store) SaveUserInstances(userID string, list []models.Instance) error {
	return s.putJSON(UserInstancesKey(userID), list)
}

// GlobalInstances returns the global instance list. A missing key is an
// empty list.
func (s *Store) GlobalInstances() ([]models.Instance, error) {
	var list []models.Instance
	if err := s.getJSON(GlobalInstancesKey, &list); err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return list, nil
}

// SaveGlobalInstances replaces the global instance list.
func (s *Store) SaveGlobalInstances(list []models.Instance) error {
	return s.putJSON(GlobalInstancesKey, list)
}

// Collaborators returns the extra user ids allowed to act on a
// container. A missing key is an empty list.
func (s *Store) Collaborators(containerID string) ([]string, error) {
	var users []string
	if err := s.getJSON(CollaboratorsKey(containerID), &users); err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return users, nil
}

// SaveCollaborators replaces a container's collaborator list.
func (s *Store) SaveCollaborators(containerID string, users []string) error {
	return s.putJSON(CollaboratorsKey(containerID), users)
}
