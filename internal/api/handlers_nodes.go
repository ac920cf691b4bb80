package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/portside/portside/internal/store"
	"github.com/portside/portside/models"
)

// listNodes handles GET /api/v1/nodes (admin only)
func (s *Server) listNodes(c echo.Context) error {
	nodes, err := s.store.Nodes()
	if err != nil {
		return InternalError("Failed to list nodes", err.Error())
	}
	if nodes == nil {
		nodes = []models.Node{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(nodes),
		"nodes": nodes,
	})
}

// getNode handles GET /api/v1/nodes/:id (admin only)
func (s *Server) getNode(c echo.Context) error {
	id := c.Param("id")
	node, err := s.store.GetNode(id)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return NotFoundError("Node", id)
		}
		return InternalError("Failed to load node", err.Error())
	}
	return c.JSON(http.StatusOK, node)
}

// createNode handles POST /api/v1/nodes (admin only)
func (s *Server) createNode(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	var node models.Node
	if err := c.Bind(&node); err != nil {
		return BadRequestError("Invalid request body", "Failed to parse JSON: "+err.Error())
	}
	if err := c.Validate(&node); err != nil {
		return err
	}

	if err := s.store.SaveNode(&node); err != nil {
		return InternalError("Failed to save node", err.Error())
	}

	s.audit.Record(cl.UserID, "node:create", node.Name)
	return c.JSON(http.StatusCreated, node)
}

// deleteNode handles DELETE /api/v1/nodes/:id (admin only)
func (s *Server) deleteNode(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	if _, err := s.store.GetNode(id); err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return NotFoundError("Node", id)
		}
		return InternalError("Failed to load node", err.Error())
	}

	if err := s.store.DeleteNode(id); err != nil {
		return InternalError("Failed to delete node", err.Error())
	}

	s.audit.Record(cl.UserID, "node:delete", id)
	return c.NoContent(http.StatusNoContent)
}

// listImages handles GET /api/v1/images
func (s *Server) listImages(c echo.Context) error {
	catalog, err := s.store.Images()
	if err != nil {
		return InternalError("Failed to list images", err.Error())
	}
	if catalog == nil {
		catalog = []models.ImageCatalogEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":  len(catalog),
		"images": catalog,
	})
}

// updateImages handles PUT /api/v1/images (admin only). It replaces the
// whole catalog.
func (s *Server) updateImages(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	var catalog []models.ImageCatalogEntry
	if err := c.Bind(&catalog); err != nil {
		return BadRequestError("Invalid request body", "Failed to parse JSON: "+err.Error())
	}
	for _, entry := range catalog {
		if entry.Name == "" || entry.Image == "" {
			return ValidationError("Validation failed", map[string]string{
				"images": "every catalog entry needs a name and an image",
			})
		}
	}

	if err := s.store.SaveImages(catalog); err != nil {
		return InternalError("Failed to save images", err.Error())
	}

	s.audit.Record(cl.UserID, "images:update", "")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":  len(catalog),
		"images": catalog,
	})
}

// listAudit handles GET /api/v1/audit (admin only)
func (s *Server) listAudit(c echo.Context) error {
	entries, err := s.store.AuditLog()
	if err != nil {
		return InternalError("Failed to read audit log", err.Error())
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}
