// Package tray provides a system tray interface for the hand tracker.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/handtrack/internal/tracker"
)

// Tray represents the system tray application. It is a tracker.Reporter
// that shows the last selected wrist.
type Tray struct {
	onToggle    func(paused bool)
	onDashboard func()
	onQuit      func()
	paused      bool
	lastHand    string
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuToggle   *systray.MenuItem
	menuLastHand *systray.MenuItem
}

// New creates a new Tray reflecting the tracker's current pause state.
func New(paused bool) *Tray {
	return &Tray{
		paused:   paused,
		lastHand: "none",
	}
}

// OnToggle sets the callback function to be called when tracking is paused or resumed.
func (t *Tray) OnToggle(fn func(paused bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnDashboard sets the callback function to be called when the dashboard menu item is clicked.
func (t *Tray) OnDashboard(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDashboard = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called or the quit item is clicked.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Handtrack")
	systray.SetTooltip("Handtrack wrist tracker")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.paused), "Pause or resume tracking")
	systray.AddSeparator()

	t.menuLastHand = systray.AddMenuItem("Hand: "+t.lastHand, "Last selected wrist")
	t.menuLastHand.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuDashboard := systray.AddMenuItem("Open Dashboard...", "Open the status page in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Handtrack")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuDashboard.ClickedCh:
				t.handleDashboard()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.paused = !t.paused
	paused := t.paused

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(paused))
	}

	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(paused)
	}
}

// handleDashboard handles the dashboard menu item click.
func (t *Tray) handleDashboard() {
	t.mu.RLock()
	callback := t.onDashboard
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Report updates the last hand display. Cycles that failed before selection
// leave it unchanged.
func (t *Tray) Report(r tracker.Result) {
	var text string
	switch {
	case r.Hand != nil:
		text = fmt.Sprintf("%s %.0f,%.0f (%.2f)", r.Hand.Part, r.Hand.X, r.Hand.Y, r.Hand.Score)
	case tracker.IsKind(r.Err, tracker.NoHandDetected):
		text = "none"
	default:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if text == t.lastHand {
		return
	}
	t.lastHand = text
	if t.menuLastHand != nil {
		t.menuLastHand.SetTitle("Hand: " + text)
	}
}

// LastHand returns the text shown for the last selected wrist.
func (t *Tray) LastHand() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastHand
}

// SetPaused updates the shown pause state without calling the toggle
// callback. Use it to follow pause changes made elsewhere, such as the HTTP
// control API.
func (t *Tray) SetPaused(paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.paused = paused
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(paused))
	}
}

// IsPaused returns the current pause state.
func (t *Tray) IsPaused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

func toggleTitle(paused bool) string {
	if paused {
		return "○ Paused"
	}
	return "● Tracking"
}
