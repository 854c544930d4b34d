package domain

// RegistryObject is the flat keyed object understood by the identifier registry.
type RegistryObject struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Content map[string]any `json:"content"`
}

type RegistrySearchResult struct {
	Size    int              `json:"size"`
	Results []RegistryObject `json:"results"`
}
