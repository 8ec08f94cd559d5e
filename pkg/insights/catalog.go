package insights

import "sort"

// ModelCatalog lists the LLM models the server offers and the active selection.
type ModelCatalog struct {
	Providers      map[string][]string `json:"models"`
	ActiveProvider string              `json:"active_provider,omitempty"`
	ActiveModel    string              `json:"active_model,omitempty"`
}

// DefaultModelCatalog is what the client assumes until the server replies.
func DefaultModelCatalog() ModelCatalog {
	return ModelCatalog{
		Providers: map[string][]string{
			"gemini": {"gemini-1.5-pro-002"},
			"claude": {"claude-3-7-sonnet-20250219"},
		},
		ActiveProvider: "gemini",
		ActiveModel:    "gemini-1.5-pro-002",
	}
}

// availableModelsData is the "data" object of an available_models envelope.
// Pointers distinguish an absent active selection from an empty one.
type availableModelsData struct {
	Models         map[string][]string `json:"models"`
	ActiveProvider *string             `json:"active_provider"`
	ActiveModel    *string             `json:"active_model"`
}

// replace swaps the provider list wholesale and overwrites the active
// selection with whatever the server included.
func (c *ModelCatalog) replace(d availableModelsData) {
	providers := make(map[string][]string, len(d.Models))
	for p, models := range d.Models {
		providers[p] = append([]string(nil), models...)
	}
	c.Providers = providers
	if d.ActiveProvider != nil {
		c.ActiveProvider = *d.ActiveProvider
	}
	if d.ActiveModel != nil {
		c.ActiveModel = *d.ActiveModel
	}
}

// Clone returns a deep copy so callers can't mutate session state.
func (c ModelCatalog) Clone() ModelCatalog {
	out := c
	out.Providers = make(map[string][]string, len(c.Providers))
	for p, models := range c.Providers {
		out.Providers[p] = append([]string(nil), models...)
	}
	return out
}

// ProviderNames returns the provider IDs in sorted order.
func (c ModelCatalog) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for p := range c.Providers {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether provider is offered and, if model is set, lists model.
// An empty model means "the provider's default".
func (c ModelCatalog) Supports(provider, model string) bool {
	models, ok := c.Providers[provider]
	if !ok {
		return false
	}
	if model == "" {
		return true
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
