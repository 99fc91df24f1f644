// Package services orchestrates recovery sessions on behalf of the UI layer.
package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/pcormier/salvage/internal/devices"
	"github.com/pcormier/salvage/internal/photorec"
	"github.com/pcormier/salvage/internal/results"
)

// TaskController is the slice of the recovery controller the coordinator
// needs; it exists so tests can substitute a fake.
type TaskController interface {
	Start(device devices.DeviceInfo, dest string, opts photorec.ScanOptions) (<-chan photorec.Event, error)
	Cancel()
}

var _ TaskController = (*photorec.Controller)(nil)

// SessionState is the UI-facing snapshot of the active (or last) session.
// Subscribers receive fresh copies; none of the fields are shared.
type SessionState struct {
	SessionActive bool     `json:"session_active"`
	Status        string   `json:"status"`
	Device        string   `json:"device"`
	Destination   string   `json:"destination"`
	Percent       float64  `json:"percent"`
	FilesFound    int      `json:"files_found"`
	SpeedLabel    string   `json:"speed_label"`
	EtaSeconds    int      `json:"eta_seconds"`
	LogLines      []string `json:"log_lines"`
	Warning       string   `json:"warning,omitempty"`
	Error         string   `json:"error,omitempty"`

	// Result is populated after a completed session has been enumerated.
	Result *results.Summary `json:"result,omitempty"`
}

// subscriber wraps a state channel with safe close handling. Sends and the
// close share a mutex: broadcasts run outside the coordinator lock, so a
// racing unsubscribe must never close the channel mid-send.
type subscriber struct {
	ch     chan SessionState
	mu     sync.Mutex
	closed bool
}

func (sub *subscriber) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}

func (sub *subscriber) send(state SessionState) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	select {
	case sub.ch <- state:
		return true
	default:
		return false
	}
}

// Coordinator consumes a controller's event stream and maintains the
// UI-facing session state. Log text is batched and capped so downstream
// renderers aren't hammered by the engine's redraw rate.
type Coordinator struct {
	controller    TaskController
	flushInterval time.Duration
	maxLogLines   int

	mu      sync.RWMutex
	state   SessionState
	subs    []*subscriber
	active  bool
	pending []string
}

// NewCoordinator wraps a controller. flushInterval bounds how often batched
// log text reaches subscribers; maxLogLines caps the retained tail.
func NewCoordinator(controller TaskController, flushInterval time.Duration, maxLogLines int) *Coordinator {
	if flushInterval <= 0 {
		flushInterval = 800 * time.Millisecond
	}
	if maxLogLines <= 0 {
		maxLogLines = 500
	}
	return &Coordinator{
		controller:    controller,
		flushInterval: flushInterval,
		maxLogLines:   maxLogLines,
		state:         SessionState{Status: "idle"},
	}
}

// StartScan resolves the device and begins a session. The error taxonomy is
// surfaced directly; callers render it.
func (c *Coordinator) StartScan(ctx context.Context, deviceID, dest string, opts photorec.ScanOptions) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return photorec.ErrSessionActive
	}
	c.active = true
	c.mu.Unlock()

	device, err := devices.Find(ctx, deviceID)
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			err = &photorec.TaskError{Kind: photorec.ErrDeviceNotFound, Name: deviceID}
		}
		c.setFailedState(dest, deviceID, err)
		return err
	}

	c.mu.Lock()
	c.state = SessionState{
		SessionActive: true,
		Status:        "running",
		Device:        device.ID,
		Destination:   dest,
		Percent:       -1,
	}
	c.pending = nil
	c.mu.Unlock()

	events, err := c.controller.Start(device, dest, opts)
	if err != nil {
		c.setFailedState(dest, device.ID, err)
		return err
	}

	go c.consume(events, dest, opts)
	return nil
}

// Cancel cancels the active session, if any.
func (c *Coordinator) Cancel() {
	c.controller.Cancel()
}

// State returns a copy of the current UI-facing state.
func (c *Coordinator) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneState(c.state)
}

// Subscribe registers for state snapshots. The channel is closed when the
// session reaches a terminal state.
func (c *Coordinator) Subscribe() chan SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &subscriber{ch: make(chan SessionState, 10)}
	c.subs = append(c.subs, sub)
	return sub.ch
}

// Unsubscribe removes a subscriber.
func (c *Coordinator) Unsubscribe(ch chan SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subs {
		if sub.ch == ch {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			sub.close()
			return
		}
	}
}

// consume drains one session's event stream. This goroutine is the only
// writer of session state while a session is active.
func (c *Coordinator) consume(events <-chan photorec.Event, dest string, opts photorec.ScanOptions) {
	flush := time.NewTicker(c.flushInterval)
	defer flush.Stop()

	for {
		select {
		case <-flush.C:
			c.flushLog()

		case ev, ok := <-events:
			if !ok {
				c.finishSession()
				return
			}
			c.handleEvent(ev, dest, opts)
		}
	}
}

func (c *Coordinator) handleEvent(ev photorec.Event, dest string, opts photorec.ScanOptions) {
	switch ev := ev.(type) {
	case photorec.LogChunk:
		c.mu.Lock()
		c.pending = append(c.pending, splitLines(ev.Text)...)
		c.mu.Unlock()

	case photorec.Progress:
		c.mu.Lock()
		// The indicator never moves backwards even when the underlying
		// estimate flaps between sector- and time-based.
		if ev.Percent > c.state.Percent {
			c.state.Percent = ev.Percent
		}
		if ev.FilesFound > c.state.FilesFound {
			c.state.FilesFound = ev.FilesFound
		}
		if ev.SpeedLabel != "" {
			c.state.SpeedLabel = ev.SpeedLabel
		}
		c.state.EtaSeconds = ev.EtaSeconds
		c.mu.Unlock()
		c.broadcast()

	case photorec.Warning:
		c.mu.Lock()
		c.state.Warning = ev.Message
		c.mu.Unlock()
		c.broadcast()

	case photorec.Completed:
		summary, err := results.Enumerate(ev.OutputLocation, opts.FileTypeFilter)
		if err != nil {
			log.Printf("enumerate results: %v", err)
		}
		c.mu.Lock()
		c.state.Status = "completed"
		c.state.SessionActive = false
		c.state.Percent = 100
		if ev.TotalFiles > c.state.FilesFound {
			c.state.FilesFound = ev.TotalFiles
		}
		c.state.Result = summary
		c.mu.Unlock()

	case photorec.Failed:
		c.mu.Lock()
		c.state.Status = "failed"
		c.state.SessionActive = false
		c.state.Error = ev.Err.Error()
		c.mu.Unlock()

	case photorec.Cancelled:
		c.mu.Lock()
		c.state.Status = "cancelled"
		c.state.SessionActive = false
		c.mu.Unlock()
	}
}

// finishSession flushes the log tail, broadcasts the terminal snapshot, and
// releases the active slot.
func (c *Coordinator) finishSession() {
	c.flushLog()
	c.broadcast()

	c.mu.Lock()
	c.active = false
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// flushLog moves batched lines into the capped log tail and notifies
// subscribers if anything changed.
func (c *Coordinator) flushLog() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	lines := append(c.state.LogLines, c.pending...)
	if over := len(lines) - c.maxLogLines; over > 0 {
		lines = append([]string(nil), lines[over:]...)
	}
	c.state.LogLines = lines
	c.pending = nil
	c.mu.Unlock()

	c.broadcast()
}

func (c *Coordinator) broadcast() {
	c.mu.RLock()
	state := cloneState(c.state)
	subs := make([]*subscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	for _, sub := range subs {
		sub.send(state)
	}
}

func (c *Coordinator) setFailedState(dest, deviceID string, err error) {
	c.mu.Lock()
	c.active = false
	c.state = SessionState{
		Status:      "failed",
		Device:      deviceID,
		Destination: dest,
		Percent:     -1,
		Error:       err.Error(),
	}
	c.mu.Unlock()
	c.broadcast()
}

func cloneState(s SessionState) SessionState {
	out := s
	out.LogLines = append([]string(nil), s.LogLines...)
	return out
}

func splitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			if i > start {
				lines = append(lines, text[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
