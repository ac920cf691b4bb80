package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/portside/portside/internal/auth"
	"github.com/portside/portside/internal/reconciler"
	"github.com/portside/portside/internal/store"
	"github.com/portside/portside/models"
)

// claims pulls the authenticated claims out of the request context.
func claims(c echo.Context) (*auth.Claims, error) {
	cl, ok := auth.ClaimsFrom(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return cl, nil
}

// listInstances handles GET /api/v1/instances. Admins see the global
// list; everyone else sees their own.
func (s *Server) listInstances(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	var list []models.Instance
	if cl.IsAdmin() {
		list, err = s.store.GlobalInstances()
	} else {
		list, err = s.store.UserInstances(cl.UserID)
	}
	if err != nil {
		return InternalError("Failed to list instances", err.Error())
	}

	if list == nil {
		list = []models.Instance{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":     len(list),
		"instances": list,
	})
}

// getInstance handles GET /api/v1/instances/:id
func (s *Server) getInstance(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	inst, err := s.store.GetInstance(id)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return NotFoundError("Instance", id)
		}
		return InternalError("Failed to load instance", err.Error())
	}

	allowed, err := s.access.CanAct(cl, inst)
	if err != nil {
		return InternalError("Failed to check access", err.Error())
	}
	if !allowed {
		return echo.NewHTTPError(http.StatusForbidden, "you are not authorized for this container")
	}

	return c.JSON(http.StatusOK, inst)
}

// reinstallInstance handles POST /api/v1/instances/:id/reinstall
func (s *Server) reinstallInstance(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	inst, err := s.reconciler.Reinstall(c.Request().Context(), c.Param("id"), cl)
	if err != nil {
		return domainError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"container_id": inst.ContainerID,
	})
}

// EditInstanceRequest is the body of PUT /api/v1/instances/:id.
type EditInstanceRequest struct {
	Image  *string  `json:"image"`
	Memory *int64   `json:"memory"`
	CPU    *float64 `json:"cpu"`
}

// editInstance handles PUT /api/v1/instances/:id (admin only). The :id
// here is the instance's current container id; a successful edit re-keys
// the record under the container id the agent returns.
func (s *Server) editInstance(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	var req EditInstanceRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", "Failed to parse JSON: "+err.Error())
	}

	changes := &reconciler.EditChanges{Image: req.Image, Memory: req.Memory, CPU: req.CPU}
	result, err := s.reconciler.Edit(c.Request().Context(), c.Param("id"), cl, changes)
	if err != nil {
		return domainError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":          "Instance updated successfully",
		"old_container_id": result.OldContainerID,
		"new_container_id": result.NewContainerID,
		"changes":          result.Changes,
	})
}

// instanceStartup handles GET /api/v1/instances/:id/startup. It lists
// the instance's current image and the catalog images it may switch to.
func (s *Server) instanceStartup(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	inst, alts, err := s.reconciler.StartupInfo(c.Param("id"), cl)
	if err != nil {
		return domainError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"image":      inst.Image,
		"alt_images": alts,
		"env":        inst.Env,
	})
}

// changeInstanceVariable handles
// POST /api/v1/instances/:id/startup/variable?variable=&value=
func (s *Server) changeInstanceVariable(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	variable := c.QueryParam("variable")
	value := c.QueryParam("value") // optional, defaults to empty

	if _, err := s.reconciler.SetVariable(c.Request().Context(), c.Param("id"), cl, variable, value); err != nil {
		return domainError(err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// RenameInstanceRequest is the body of POST /api/v1/instances/:id/name.
type RenameInstanceRequest struct {
	Name string `json:"name" validate:"required,min=3,max=32"`
}

// renameInstance handles POST /api/v1/instances/:id/name
func (s *Server) renameInstance(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	var req RenameInstanceRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", "Failed to parse JSON: "+err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if _, err := s.reconciler.Rename(c.Request().Context(), c.Param("id"), cl, req.Name); err != nil {
		return domainError(err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// changeInstanceImage handles POST /api/v1/instances/:id/image?image=
func (s *Server) changeInstanceImage(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	image := c.QueryParam("image")
	inst, err := s.reconciler.ChangeImage(c.Request().Context(), c.Param("id"), cl, image)
	if err != nil {
		return domainError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"container_id": inst.ContainerID,
	})
}
