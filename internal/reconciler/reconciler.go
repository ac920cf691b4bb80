// Package reconciler implements the instance lifecycle operations of the
// panel: reinstall, edit, rename, environment changes and image changes.
//
// Each operation follows the same shape: verify the record exists, verify
// the caller may act on the container, verify the instance is not
// suspended, perform the remote agent call, then rewrite the three stored
// views of the instance (canonical record, owner list, global list) so
// they agree on the latest state. Local writes after a successful remote
// call are not rolled back on failure; the views converge on the next
// successful mutation.
package reconciler

import (
	"context"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/portside/portside/internal/agent"
	"github.com/portside/portside/internal/audit"
	"github.com/portside/portside/internal/auth"
	"github.com/portside/portside/internal/store"
	"github.com/portside/portside/models"
)

// Reconciler applies validated mutations to instances and keeps the
// denormalized views consistent afterwards.
type Reconciler struct {
	store  *store.Store
	agent  *agent.Client
	access *auth.Checker
	audit  *audit.Logger
}

// New creates a reconciler. All collaborators are injected; the
// reconciler holds no ambient state.
func New(st *store.Store, client *agent.Client, access *auth.Checker, auditLog *audit.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		agent:  client,
		access: access,
		audit:  auditLog,
	}
}

// load fetches the record stored under id and runs the cross-cutting
// preconditions: existence, authorization, suspension.
func (r *Reconciler) load(id string, claims *auth.Claims) (*models.Instance, error) {
	inst, err := r.store.GetInstance(id)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, &NotFoundError{Resource: "instance", ID: id}
		}
		return nil, err
	}

	allowed, err := r.access.CanAct(claims, inst)
	if err != nil {
		return nil, err
	}
	if !allowed {
		userID := ""
		if claims != nil {
			userID = claims.UserID
		}
		return nil, &AuthorizationError{UserID: userID, ContainerID: inst.ContainerID}
	}

	if inst.Suspended {
		return nil, &SuspendedError{InstanceID: inst.ID}
	}

	return inst, nil
}

// node resolves the instance's assigned node.
func (r *Reconciler) node(inst *models.Instance) (*models.Node, error) {
	if inst.NodeID == "" {
		return nil, &ValidationError{Field: "node", Message: "instance has no assigned node"}
	}
	node, err := r.store.GetNode(inst.NodeID)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, &NotFoundError{Resource: "node", ID: inst.NodeID}
		}
		return nil, err
	}
	return node, nil
}

// deployRequest reissues the instance's current attributes as an agent
// deploy body, optionally targeting a different image.
func deployRequest(inst *models.Instance, image string) *agent.DeployRequest {
	exposed, bindings := agent.ParsePortMappings(inst.Ports)
	return &agent.DeployRequest{
		Name:         inst.Name,
		Image:        image,
		Memory:       inst.Memory,
		CPU:          inst.CPU,
		Env:          inst.Env,
		ExposedPorts: exposed,
		PortBindings: bindings,
		VolumeID:     inst.ID,
		Primary:      inst.Primary,
	}
}

// refreshAltImages recomputes the alternate-image list from the current
// image catalog. A catalog read failure keeps the previous list.
func (r *Reconciler) refreshAltImages(inst *models.Instance) {
	catalog, err := r.store.Images()
	if err != nil {
		log.Printf("reconciler: failed to read image catalog: %v", err)
		return
	}
	inst.AltImages = models.AlternateImages(catalog, inst.Image)
}

// Reinstall reissues the instance's image and resources to the node
// agent and adopts the container id the agent returns. The record stays
// keyed by the unchanged instance id.
func (r *Reconciler) Reinstall(ctx context.Context, instanceID string, claims *auth.Claims) (*models.Instance, error) {
	inst, err := r.load(instanceID, claims)
	if err != nil {
		return nil, err
	}

	if err := requireReinstallFields(inst); err != nil {
		return nil, err
	}

	node, err := r.node(inst)
	if err != nil {
		return nil, err
	}

	newContainerID, err := r.agent.Reinstall(ctx, node, inst.ContainerID, deployRequest(inst, inst.Image))
	if err != nil {
		return nil, err
	}

	inst.ContainerID = newContainerID
	inst.UpdatedAt = time.Now()
	r.refreshAltImages(inst)

	if err := r.saveViews(instanceID, inst, matchByID(instanceID)); err != nil {
		return nil, err
	}

	r.audit.Record(claims.UserID, "instance:reinstall", inst.Name)
	return inst, nil
}

// requireReinstallFields checks that everything a reinstall reissues is
// present on the record.
func requireReinstallFields(inst *models.Instance) error {
	switch {
	case inst.Image == "":
		return &ValidationError{Field: "image", Message: "required for reinstall"}
	case inst.Memory <= 0:
		return &ValidationError{Field: "memory", Message: "required for reinstall"}
	case inst.CPU <= 0:
		return &ValidationError{Field: "cpu", Message: "required for reinstall"}
	case inst.Name == "":
		return &ValidationError{Field: "name", Message: "required for reinstall"}
	case inst.UserID == "":
		return &ValidationError{Field: "user", Message: "required for reinstall"}
	case inst.NodeID == "":
		return &ValidationError{Field: "node", Message: "required for reinstall"}
	}
	return nil
}

// EditChanges carries the optional resource and image changes of an edit
// operation. At least one field must be set.
type EditChanges struct {
	Image  *string
	Memory *int64
	CPU    *float64
}

// Applied lists the changed fields and their new values.
func (c *EditChanges) Applied() map[string]interface{} {
	applied := make(map[string]interface{})
	if c.Image != nil {
		applied["image"] = *c.Image
	}
	if c.Memory != nil {
		applied["memory"] = *c.Memory
	}
	if c.CPU != nil {
		applied["cpu"] = *c.CPU
	}
	return applied
}

func (c *EditChanges) validate() error {
	if c.Image == nil && c.Memory == nil && c.CPU == nil {
		return &ValidationError{Message: "at least one of image, memory, cpu is required"}
	}
	if c.Image != nil && *c.Image == "" {
		return &ValidationError{Field: "image", Message: "must not be empty"}
	}
	if c.Memory != nil && *c.Memory <= 0 {
		return &ValidationError{Field: "memory", Message: "must be a positive number"}
	}
	if c.CPU != nil && *c.CPU <= 0 {
		return &ValidationError{Field: "cpu", Message: "must be a positive number"}
	}
	return nil
}

// EditResult reports the container id transition and the changes applied
// by an edit.
type EditResult struct {
	Instance       *models.Instance
	OldContainerID string
	NewContainerID string
	Changes        map[string]interface{}
}

// Edit applies resource or image changes through the node agent. The
// record is addressed by its container id, and this is the one operation
// that re-keys storage: the old container-id key is deleted and the
// record is rewritten under the new container id. Both list views update
// by matching the old container id.
func (r *Reconciler) Edit(ctx context.Context, containerID string, claims *auth.Claims, changes *EditChanges) (*EditResult, error) {
	if err := changes.validate(); err != nil {
		return nil, err
	}

	inst, err := r.load(containerID, claims)
	if err != nil {
		return nil, err
	}

	node, err := r.node(inst)
	if err != nil {
		return nil, err
	}

	req := &agent.EditRequest{Image: changes.Image, Memory: changes.Memory, CPU: changes.CPU}
	newContainerID, err := r.agent.Edit(ctx, node, inst.ContainerID, req)
	if err != nil {
		return nil, err
	}

	oldContainerID := inst.ContainerID
	if changes.Image != nil {
		inst.Image = *changes.Image
	}
	if changes.Memory != nil {
		inst.Memory = *changes.Memory
	}
	if changes.CPU != nil {
		inst.CPU = *changes.CPU
	}
	inst.ContainerID = newContainerID
	inst.UpdatedAt = time.Now()

	if err := r.saveViews(newContainerID, inst, matchByContainerID(oldContainerID)); err != nil {
		return nil, err
	}
	if containerID != newContainerID {
		if err := r.store.DeleteInstance(containerID); err != nil {
			return nil, err
		}
	}

	r.audit.Record(claims.UserID, "instance:edit", inst.Name)
	return &EditResult{
		Instance:       inst,
		OldContainerID: oldContainerID,
		NewContainerID: newContainerID,
		Changes:        changes.Applied(),
	}, nil
}

// Rename changes an instance's name. The local rename is authoritative:
// all three views are rewritten first, and the node agent is notified
// afterwards on a best-effort basis. A failed notification is logged and
// the rename stands.
func (r *Reconciler) Rename(ctx context.Context, instanceID string, claims *auth.Claims, newName string) (*models.Instance, error) {
	if n := utf8.RuneCountInString(newName); n < 3 || n > 32 {
		return nil, &ValidationError{Field: "name", Message: "must be between 3 and 32 characters"}
	}

	inst, err := r.load(instanceID, claims)
	if err != nil {
		return nil, err
	}

	global, err := r.store.GlobalInstances()
	if err != nil {
		return nil, err
	}
	for _, entry := range global {
		if entry.ID != inst.ID && entry.Name == newName {
			return nil, &ValidationError{Field: "name", Message: "already in use by another instance"}
		}
	}

	inst.Name = newName
	inst.UpdatedAt = time.Now()

	if err := r.saveViews(instanceID, inst, matchByID(instanceID)); err != nil {
		return nil, err
	}

	if node, nodeErr := r.node(inst); nodeErr == nil {
		if notifyErr := r.agent.NotifyRename(ctx, node, inst.ContainerID, newName); notifyErr != nil {
			log.Printf("reconciler: rename notification for %s failed: %v", inst.ID, notifyErr)
		}
	} else {
		log.Printf("reconciler: skipping rename notification for %s: %v", inst.ID, nodeErr)
	}

	r.audit.Record(claims.UserID, "instance:rename", newName)
	return inst, nil
}

// SetVariable replaces the value of an environment variable, or appends
// the entry if the key is absent. No remote call is made: environment
// changes take effect on the container's next start.
func (r *Reconciler) SetVariable(ctx context.Context, instanceID string, claims *auth.Claims, key, value string) (*models.Instance, error) {
	if key == "" {
		return nil, &ValidationError{Field: "variable", Message: "variable name is required"}
	}

	inst, err := r.load(instanceID, claims)
	if err != nil {
		return nil, err
	}

	inst.SetEnv(key, value)
	inst.UpdatedAt = time.Now()

	if err := r.saveViews(instanceID, inst, matchByID(instanceID)); err != nil {
		return nil, err
	}

	r.audit.Record(claims.UserID, "instance:variable", key)
	return inst, nil
}

// ChangeImage redeploys the instance onto a new catalog image. The
// outgoing image is retained in PreviousImage and the alternate-image
// list is recomputed around the new one.
func (r *Reconciler) ChangeImage(ctx context.Context, instanceID string, claims *auth.Claims, newImage string) (*models.Instance, error) {
	if newImage == "" {
		return nil, &ValidationError{Field: "image", Message: "image is required"}
	}

	inst, err := r.load(instanceID, claims)
	if err != nil {
		return nil, err
	}

	catalog, err := r.store.Images()
	if err != nil {
		return nil, err
	}
	if !catalogContains(catalog, newImage) {
		return nil, &ValidationError{Field: "image", Message: "not in the image catalog"}
	}

	node, err := r.node(inst)
	if err != nil {
		return nil, err
	}

	newContainerID, err := r.agent.Redeploy(ctx, node, inst.ContainerID, deployRequest(inst, newImage))
	if err != nil {
		return nil, err
	}

	inst.PreviousImage = inst.Image
	inst.Image = newImage
	inst.ContainerID = newContainerID
	inst.AltImages = models.AlternateImages(catalog, newImage)
	inst.UpdatedAt = time.Now()

	if err := r.saveViews(instanceID, inst, matchByID(instanceID)); err != nil {
		return nil, err
	}

	r.audit.Record(claims.UserID, "instance:image", newImage)
	return inst, nil
}

func catalogContains(catalog []models.ImageCatalogEntry, image string) bool {
	for _, entry := range catalog {
		if entry.Image == image {
			return true
		}
	}
	return false
}

// StartupInfo returns the instance's current image and the alternate
// images it may switch to. Reads are not blocked by suspension.
func (r *Reconciler) StartupInfo(instanceID string, claims *auth.Claims) (*models.Instance, []string, error) {
	inst, err := r.store.GetInstance(instanceID)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil, &NotFoundError{Resource: "instance", ID: instanceID}
		}
		return nil, nil, err
	}

	allowed, err := r.access.CanAct(claims, inst)
	if err != nil {
		return nil, nil, err
	}
	if !allowed {
		userID := ""
		if claims != nil {
			userID = claims.UserID
		}
		return nil, nil, &AuthorizationError{UserID: userID, ContainerID: inst.ContainerID}
	}

	catalog, err := r.store.Images()
	if err != nil {
		return nil, nil, err
	}
	return inst, models.AlternateImages(catalog, inst.Image), nil
}
