package reconciler

import "fmt"

// ValidationError reports bad or missing input to an operation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// AuthorizationError reports that a user may not act on a container.
type AuthorizationError struct {
	UserID      string
	ContainerID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not authorized for container %s", e.UserID, e.ContainerID)
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// SuspendedError reports a mutation attempt on a suspended instance.
// Suspension blocks every mutating operation, rename included.
type SuspendedError struct {
	InstanceID string
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("instance %s is suspended", e.InstanceID)
}
