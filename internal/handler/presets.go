package handler

import "net/http"

// PresetHandler lists the available presets.
type PresetHandler struct {
	presets PresetCatalog
}

func NewPresetHandler(presets PresetCatalog) *PresetHandler {
	return &PresetHandler{presets: presets}
}

// HandleList returns every preset's name and description. Prompts stay
// server-side.
//
// HTTP: GET /api/presets
func (h *PresetHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default": h.presets.Default(),
		"presets": h.presets.List(),
	})
}
