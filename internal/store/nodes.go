package store

import "github.com/portside/portside/models"

const nodesKey = "nodes"

// NodeKey returns the record key for a node id.
func NodeKey(id string) string {
	return id + "_node"
}

// GetNode returns the node stored under id.
func (s *Store) GetNode(id string) (*models.Node, error) {
	var node models.Node
	if err := s.getJSON(NodeKey(id), &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// SaveNode writes the node record and keeps the node list in step.
func (s *Store) SaveNode(node *models.Node) error {
	if err := s.putJSON(NodeKey(node.ID), node); err != nil {
		return err
	}

	nodes, err := s.Nodes()
	if err != nil {
		return err
	}
	updated := make([]models.Node, 0, len(nodes)+1)
	for _, n := range nodes {
		if n.ID != node.ID {
			updated = append(updated, n)
		}
	}
	updated = append(updated, *node)
	return s.putJSON(nodesKey, updated)
}

// DeleteNode removes the node record and its list entry.
func (s *Store) DeleteNode(id string) error {
	if err := s.deleteKey(NodeKey(id)); err != nil {
		return err
	}

	nodes, err := s.Nodes()
	if err != nil {
		return err
	}
	updated := make([]models.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.ID != id {
			updated = append(updated, n)
		}
	}
	return s.putJSON(nodesKey, updated)
}

// Nodes returns all registered nodes. A missing key is an empty list.
func (s *Store) Nodes() ([]models.Node, error) {
	var nodes []models.Node
	if err := s.getJSON(nodesKey, &nodes); err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return nodes, nil
}
