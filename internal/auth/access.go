package auth

import (
	"github.com/portside/portside/models"
)

// CollaboratorSource looks up the extra user ids allowed to act on a
// container, beyond its owner.
type CollaboratorSource interface {
	Collaborators(containerID string) ([]string, error)
}

// Checker decides whether a user may act on an instance. Admins may act
// on anything; otherwise the user must own the instance or appear in the
// container's collaborator list.
type Checker struct {
	collaborators CollaboratorSource
}

// NewChecker creates an access checker backed by the given collaborator
// source.
func NewChecker(src CollaboratorSource) *Checker {
	return &Checker{collaborators: src}
}

// CanAct reports whether the claims holder may act on the instance.
func (c *Checker) CanAct(claims *Claims, inst *models.Instance) (bool, error) {
	if claims == nil {
		return false, nil
	}
	if claims.IsAdmin() {
		return true, nil
	}
	if claims.UserID == inst.UserID {
		return true, nil
	}

	users, err := c.collaborators.Collaborators(inst.ContainerID)
	if err != nil {
		return false, err
	}
	for _, id := range users {
		if id == claims.UserID {
			return true, nil
		}
	}
	return false, nil
}
