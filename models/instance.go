package models

import "time"

// Instance represents a managed containerized workload tracked by the panel.
//
// The instance ID is the stable volume identifier; it never changes. The
// ContainerID is assigned by the node agent and is replaced every time the
// container is reinstalled, edited or redeployed onto a new image.
//
// Three denormalized views of every instance are persisted: the canonical
// record under "{id}_instance", an entry in the owning user's
// "{userId}_instances" list, and an entry in the global "instances" list.
// The reconciler keeps those views in agreement after every mutation.
type Instance struct {
	// ID is the stable volume identifier for the instance
	ID string `json:"id" validate:"required"`

	// Name is the human-readable instance name (3-32 chars, unique)
	Name string `json:"name" validate:"required,min=3,max=32"`

	// UserID is the owning user's identifier
	UserID string `json:"user" validate:"required"`

	// NodeID references the node that hosts this instance
	NodeID string `json:"node" validate:"required"`

	// ContainerID is the agent-assigned container identifier. It changes
	// on reinstall, edit and image change.
	ContainerID string `json:"container_id"`

	// Memory is the memory limit in megabytes
	Memory int64 `json:"memory" validate:"required,gt=0"`

	// CPU is the CPU limit in cores (or shares, agent-defined)
	CPU float64 `json:"cpu" validate:"required,gt=0"`

	// Ports holds comma-separated "containerPort:hostPort" mappings
	Ports string `json:"ports,omitempty"`

	// Image is the current container image reference
	Image string `json:"image" validate:"required"`

	// AltImages lists alternate images the instance may switch to,
	// recomputed from the image catalog on reinstall and image change
	AltImages []string `json:"alt_images,omitempty"`

	// PreviousImage is the image that was running before the last image
	// change, empty if the image was never changed
	PreviousImage string `json:"previous_image,omitempty"`

	// Env is the ordered list of "KEY=VALUE" environment entries; keys
	// are unique within the list
	Env []string `json:"env,omitempty"`

	// Suspended blocks all mutating operations when true. Records written
	// before the flag existed omit it; the store normalizes a missing
	// flag to false on first read.
	Suspended bool `json:"suspended"`

	// Primary marks the primary port mapping as exposed
	Primary bool `json:"primary"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// EnvValue returns the value of the named environment variable and
// whether it is present.
func (i *Instance) EnvValue(key string) (string, bool) {
	prefix := key + "="
	for _, entry := range i.Env {
		if len(entry) >= len(prefix) && entry[:len(prefix)] == prefix {
			return entry[len(prefix):], true
		}
	}
	return "", false
}

// SetEnv replaces the value of an existing environment variable or
// appends a new entry if the key is absent. Entry order is preserved.
func (i *Instance) SetEnv(key, value string) {
	prefix := key + "="
	for n, entry := range i.Env {
		if len(entry) >= len(prefix) && entry[:len(prefix)] == prefix {
			i.Env[n] = prefix + value
			return
		}
	}
	i.Env = append(i.Env, prefix+value)
}
