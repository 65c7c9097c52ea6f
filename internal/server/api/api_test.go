package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/handtrack/internal/store"
	"github.com/ayusman/handtrack/internal/tracker"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func seedSession(t *testing.T, s *store.Store, id string, finished bool) *store.Session {
	t.Helper()

	session := &store.Session{
		ID:           id,
		Source:       "camera:0@1280x720",
		Backend:      "dnn",
		Multiplier:   0.75,
		ScaleFactor:  0.6,
		OutputStride: 16,
	}
	if err := s.Sessions().Create(session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	now := time.Now()
	positions := []store.Position{
		{Cycle: 1, Detected: true, Part: "rightWrist", X: 100, Y: 200, Score: 0.9, CapturedAt: now},
		{Cycle: 2, Detected: false, CapturedAt: now},
		{Cycle: 3, Detected: true, Part: "leftWrist", X: 50, Y: 60, Score: 0.7, CapturedAt: now},
	}
	if err := s.Positions().CreateBatch(id, positions); err != nil {
		t.Fatalf("failed to create positions: %v", err)
	}

	if finished {
		if err := s.Sessions().Finish(id, now, 3, 2); err != nil {
			t.Fatalf("failed to finish session: %v", err)
		}
	}
	return session
}

func TestSessionHandler_List(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "session-1", true)
	handler := NewSessionHandler(s)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response listSessionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(response.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(response.Sessions))
	}
	got := response.Sessions[0]
	if got.ID != "session-1" || got.Running || got.Cycles != 3 || got.StoppedAt == "" {
		t.Errorf("unexpected session: %+v", got)
	}
}

func TestSessionHandler_ListEmpty(t *testing.T) {
	handler := NewSessionHandler(newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if body := rec.Body.String(); body != "{\"sessions\":[]}\n" {
		t.Errorf("expected empty array, got %q", body)
	}
}

func TestSessionHandler_Get(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "session-1", false)
	handler := NewSessionHandler(s)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "existing", path: "/api/sessions/session-1", wantStatus: http.StatusOK},
		{name: "missing", path: "/api/sessions/nope", wantStatus: http.StatusNotFound},
		{name: "unknown sub-resource", path: "/api/sessions/session-1/frames", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestSessionHandler_Positions(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "session-1", true)
	handler := NewSessionHandler(s)

	t.Run("all positions in cycle order", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/session-1/positions", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		var response listPositionsResponse
		json.NewDecoder(rec.Body).Decode(&response)

		if response.Total != 3 || len(response.Positions) != 3 {
			t.Fatalf("expected 3 positions, got total %d, len %d", response.Total, len(response.Positions))
		}
		if response.Positions[0].Part != "rightWrist" || response.Positions[1].Detected {
			t.Errorf("unexpected positions: %+v", response.Positions)
		}
	})

	t.Run("paging", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/session-1/positions?limit=1&offset=2", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		var response listPositionsResponse
		json.NewDecoder(rec.Body).Decode(&response)

		if len(response.Positions) != 1 || response.Positions[0].Cycle != 3 {
			t.Errorf("unexpected page: %+v", response.Positions)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/session-1/positions?limit=-4", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("missing session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope/positions", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestSessionHandler_Delete(t *testing.T) {
	s := newTestStore(t)
	seedSession(t, s, "finished", true)
	seedSession(t, s, "running", false)
	handler := NewSessionHandler(s)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/running", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("deleting a running session: expected %d, got %d", http.StatusConflict, rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/sessions/finished", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}

	if _, err := s.Sessions().GetByID("finished"); err != store.ErrNotFound {
		t.Errorf("session should be gone, got %v", err)
	}
}

func TestSessionHandler_MethodNotAllowed(t *testing.T) {
	handler := NewSessionHandler(newTestStore(t))

	for _, path := range []string{"/api/sessions", "/api/sessions/x/positions"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected status %d, got %d", path, http.StatusMethodNotAllowed, rec.Code)
		}
	}
}

type fakeController struct {
	mu     sync.Mutex
	paused bool
}

func (f *fakeController) Status() tracker.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return tracker.Status{State: tracker.StateIdle, Paused: f.paused}
}

func (f *fakeController) SetPaused(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = paused
}

func TestControlHandler(t *testing.T) {
	s := newTestStore(t)
	ctrl := &fakeController{}
	handler := NewControlHandler(ctrl, s.Settings())

	t.Run("status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		rec := httptest.NewRecorder()

		handler.Status(rec, req)

		var status tracker.Status
		if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
			t.Fatalf("failed to decode status: %v", err)
		}
		if status.State != tracker.StateIdle || status.Paused {
			t.Errorf("unexpected status: %+v", status)
		}
	})

	t.Run("pause persists", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/pause", nil)
		rec := httptest.NewRecorder()

		handler.Pause(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if !ctrl.Status().Paused {
			t.Error("controller should be paused")
		}
		if v, _ := s.Settings().GetBool(PausedSetting, false); !v {
			t.Error("pause state should be saved")
		}
	})

	t.Run("resume", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/resume", nil)
		rec := httptest.NewRecorder()

		handler.Resume(rec, req)

		if ctrl.Status().Paused {
			t.Error("controller should be resumed")
		}
	})

	t.Run("pause requires POST", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/pause", nil)
		rec := httptest.NewRecorder()

		handler.Pause(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("without settings", func(t *testing.T) {
		h := NewControlHandler(&fakeController{}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/pause", nil)
		rec := httptest.NewRecorder()

		h.Pause(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
	})
}
