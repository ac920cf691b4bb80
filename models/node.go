package models

// Node is a remote host running an agent API that creates and controls
// containers on behalf of the panel.
type Node struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required,min=3,max=32"`
	Address string `json:"address" validate:"required"`
	Port    int    `json:"port" validate:"required,gt=0,lte=65535"`
	APIKey  string `json:"api_key" validate:"required"`
}

// ImageCatalogEntry is one entry of the "images" catalog. Instances pick
// their alternate-image list from catalog entries other than their
// current image.
type ImageCatalogEntry struct {
	Name  string `json:"name" validate:"required"`
	Image string `json:"image" validate:"required"`
}

// AlternateImages returns the images of all catalog entries except the
// current one.
func AlternateImages(catalog []ImageCatalogEntry, current string) []string {
	alts := make([]string, 0, len(catalog))
	for _, entry := range catalog {
		if entry.Image != current {
			alts = append(alts, entry.Image)
		}
	}
	return alts
}
