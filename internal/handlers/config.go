package handlers

import (
	"net/http"

	"github.com/songify/widget/internal/config"
	"github.com/songify/widget/internal/models"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// PublicConfig returns non-sensitive configuration for widget pages.
func (h *ConfigHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.ConfigResponse{
		SpotifyClientID: h.cfg.SpotifyClientID,
		PollIntervalMs:  h.cfg.PollInterval.Milliseconds(),
	})
}

// Health reports that the process is serving.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}
