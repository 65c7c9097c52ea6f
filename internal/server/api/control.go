package api

import (
	"net/http"

	"github.com/ayusman/handtrack/internal/store"
	"github.com/ayusman/handtrack/internal/tracker"
)

// PausedSetting is the settings key under which the pause state persists.
const PausedSetting = "tracker.paused"

// Controller is the part of the tracker the API drives.
type Controller interface {
	Status() tracker.Status
	SetPaused(paused bool)
}

// ControlHandler serves tracker status and the pause/resume switch.
type ControlHandler struct {
	tracker  Controller
	settings *store.SettingsRepository
}

// NewControlHandler creates a ControlHandler. settings may be nil, in which
// case the pause state is not persisted.
func NewControlHandler(c Controller, settings *store.SettingsRepository) *ControlHandler {
	return &ControlHandler{tracker: c, settings: settings}
}

// Status handles GET /api/status.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.Status())
}

// Pause handles POST /api/pause.
func (h *ControlHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Resume handles POST /api/resume.
func (h *ControlHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *ControlHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.tracker.SetPaused(paused)

	if h.settings != nil {
		if err := h.settings.SetBool(PausedSetting, paused); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save pause state")
			return
		}
	}

	writeJSON(w, http.StatusOK, h.tracker.Status())
}
