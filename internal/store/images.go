package store

import "github.com/portside/portside/models"

const imagesKey = "images"

// Images returns the image catalog. A missing key is an empty catalog.
func (s *Store) Images() ([]models.ImageCatalogEntry, error) {
	var catalog []models.ImageCatalogEntry
	if err := s.getJSON(imagesKey, &catalog); err != nil {
		if err == ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return catalog, nil
}

// SaveImages replaces the image catalog.
func (s *Store) SaveImages(catalog []models.ImageCatalogEntry) error {
	return s.putJSON(imagesKey, catalog)
}
