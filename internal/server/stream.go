package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/handtrack/internal/hand"
	"github.com/ayusman/handtrack/internal/imaging"
)

// streamInterval paces MJPEG output at roughly 15 FPS.
const streamInterval = 66 * time.Millisecond

// Preview keeps the latest annotated buffer as JPEG and serves it as an MJPEG
// stream. It is a tracker.FrameSink; frames are only encoded while at least
// one viewer is connected.
type Preview struct {
	mu      sync.RWMutex
	jpeg    []byte
	seq     uint64
	viewers atomic.Int32
	logger  *slog.Logger
}

// NewPreview creates an empty preview.
func NewPreview(logger *slog.Logger) *Preview {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preview{logger: logger}
}

// WriteFrame encodes buf with the selected wrist marked.
func (p *Preview) WriteFrame(buf *imaging.Buffer, pos *hand.Position) {
	if p.viewers.Load() == 0 {
		return
	}

	var markers []imaging.Marker
	if pos != nil {
		markers = append(markers, imaging.Marker{
			X:     pos.X,
			Y:     pos.Y,
			Label: fmt.Sprintf("%s %.2f", pos.Part, pos.Score),
		})
	}

	data, err := imaging.EncodePreview(buf, markers...)
	if err != nil {
		p.logger.Debug("preview encode failed", "err", err)
		return
	}

	p.mu.Lock()
	p.jpeg = data
	p.seq++
	p.mu.Unlock()
}

// Latest returns the most recent JPEG and its sequence number.
func (p *Preview) Latest() ([]byte, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jpeg, p.seq
}

// ServeHTTP streams MJPEG frames to connected clients.
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p.viewers.Add(1)
	defer p.viewers.Add(-1)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, seq := p.Latest()
		if frame == nil || seq == sent {
			continue
		}
		sent = seq

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write(frame); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
