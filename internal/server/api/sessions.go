package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/handtrack/internal/store"
)

// DefaultPageSize bounds list responses when no limit is given.
const DefaultPageSize = 500

// SessionHandler serves recorded tracking sessions and their positions.
type SessionHandler struct {
	store *store.Store
}

// NewSessionHandler creates a new SessionHandler with the given store.
func NewSessionHandler(s *store.Store) *SessionHandler {
	return &SessionHandler{store: s}
}

// ServeHTTP routes /api/sessions, /api/sessions/{id} and
// /api/sessions/{id}/positions.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "positions":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.positions(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type sessionResponse struct {
	ID             string  `json:"id"`
	Source         string  `json:"source"`
	Backend        string  `json:"backend"`
	Multiplier     float64 `json:"multiplier"`
	ScaleFactor    float64 `json:"scale_factor"`
	OutputStride   int     `json:"output_stride"`
	FlipHorizontal bool    `json:"flip_horizontal"`
	Cycles         int64   `json:"cycles"`
	Detections     int64   `json:"detections"`
	Running        bool    `json:"running"`
	StartedAt      string  `json:"started_at"`
	StoppedAt      string  `json:"stopped_at,omitempty"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type positionResponse struct {
	Cycle      int64   `json:"cycle"`
	Detected   bool    `json:"detected"`
	Part       string  `json:"part,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Score      float64 `json:"score"`
	Static     bool    `json:"static,omitempty"`
	Error      string  `json:"error,omitempty"`
	CapturedAt string  `json:"captured_at"`
}

type listPositionsResponse struct {
	SessionID string             `json:"session_id"`
	Total     int64              `json:"total"`
	Positions []positionResponse `json:"positions"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:             s.ID,
		Source:         s.Source,
		Backend:        s.Backend,
		Multiplier:     s.Multiplier,
		ScaleFactor:    s.ScaleFactor,
		OutputStride:   s.OutputStride,
		FlipHorizontal: s.FlipHorizontal,
		Cycles:         s.Cycles,
		Detections:     s.Detections,
		Running:        s.Running(),
		StartedAt:      s.StartedAt.Format(timeFormat),
	}
	if s.StoppedAt != nil {
		resp.StoppedAt = s.StoppedAt.Format(timeFormat)
	}
	return resp
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

// list handles GET /api/sessions.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{
		Sessions: make([]sessionResponse, 0, len(sessions)),
	}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toSessionResponse(s))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/sessions/{id}.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	session, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// delete handles DELETE /api/sessions/{id}.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	session, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	if session.Running() {
		writeError(w, http.StatusConflict, "Session is still recording")
		return
	}

	if err := h.store.Sessions().Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// positions handles GET /api/sessions/{id}/positions?limit=&offset=.
func (h *SessionHandler) positions(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Sessions().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	limit, err := queryInt(r, "limit", DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	positions, err := h.store.Positions().ListBySession(id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list positions")
		return
	}
	total, err := h.store.Positions().CountBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count positions")
		return
	}

	response := listPositionsResponse{
		SessionID: id,
		Total:     total,
		Positions: make([]positionResponse, 0, len(positions)),
	}
	for _, p := range positions {
		response.Positions = append(response.Positions, positionResponse{
			Cycle:      p.Cycle,
			Detected:   p.Detected,
			Part:       p.Part,
			X:          p.X,
			Y:          p.Y,
			Score:      p.Score,
			Static:     p.Static,
			Error:      p.Error,
			CapturedAt: p.CapturedAt.Format(timeFormat),
		})
	}

	writeJSON(w, http.StatusOK, response)
}
