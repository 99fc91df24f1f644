package photorec

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/pcormier/salvage/internal/devices"
	"github.com/pcormier/salvage/internal/elevate"
	"github.com/pcormier/salvage/internal/term"
)

// State is the lifecycle position of a controller.
type State int

const (
	StateIdle State = iota
	StateLaunching
	StateRunning
	StateFinalizing
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

const sectorBytes = 512

// permissionMarkers are the output substrings that latch an eventual
// InsufficientPermissions outcome. The session is never cut short on seeing
// one: files might still be salvageable from readable regions.
var permissionMarkers = []string{
	"Permission denied",
	"Operation not permitted",
}

// Options configures a Controller. Zero-value fields fall back to defaults.
type Options struct {
	// BinaryPath locates the engine; resolved through PATH when bare.
	BinaryPath string
	// ExpectPath locates expect(1), which interprets the navigation script.
	ExpectPath string
	// ScratchDir holds the per-session temp log and script.
	ScratchDir string
	// Runner launches and terminates the elevated engine.
	Runner elevate.Runner

	// PollInterval is the log tail cadence.
	PollInterval time.Duration
	// ProgressInterval throttles Progress events.
	ProgressInterval time.Duration
	// GraceDelay is waited before the final poll so trailing writes flush.
	GraceDelay time.Duration
	// StallWindow is how long unrecognized-but-active output is tolerated
	// before a soft Warning is emitted.
	StallWindow time.Duration
	// PromptTable replaces the default menu-navigation rules when non-empty,
	// for deployments whose engine build changed its prompt wording.
	PromptTable []PromptRule
}

func (o *Options) fillDefaults() {
	if o.BinaryPath == "" {
		o.BinaryPath = "photorec"
	}
	if o.ExpectPath == "" {
		o.ExpectPath = "/usr/bin/expect"
	}
	if o.ScratchDir == "" {
		o.ScratchDir = os.TempDir()
	}
	if o.Runner == nil {
		o.Runner = elevate.NewRunner()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 500 * time.Millisecond
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = 250 * time.Millisecond
	}
	if o.StallWindow <= 0 {
		o.StallWindow = 30 * time.Second
	}
}

// Controller owns at most one recovery session at a time: one engine
// subprocess, one temp log, one navigation script. Starting a second session
// while one is active is rejected.
type Controller struct {
	opts Options

	mu      sync.Mutex
	state   State
	session *session
}

// NewController creates a controller in the Idle state.
func NewController(opts Options) *Controller {
	opts.fillDefaults()
	return &Controller{opts: opts, state: StateIdle}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// session binds everything owned by one run. Created on Start, destroyed on
// the terminal event after the temp files are removed.
type session struct {
	id         string
	device     devices.DeviceInfo
	dest       string
	opts       ScanOptions
	logPath    string
	scriptPath string
	cmd        *exec.Cmd

	events chan Event
	emitMu sync.Mutex
	closed bool
	stop   chan struct{}

	// Polling state. Touched only by the run goroutine.
	record         ProgressRecord
	offset         int64
	pending        []byte
	lastLine       string
	permDenied     bool
	lastRecognized time.Time
	stallWarned    bool
	limiter        *rate.Limiter

	// Speed tracking between Progress emissions.
	lastSector   int64
	lastSectorAt time.Time
	speedLabel   string
}

// Start launches a session against one device and destination. The returned
// channel carries the session's events and is closed after the single
// terminal event. Pre-launch failures (missing binary, unwritable
// destination) are returned as a *TaskError without spawning anything.
func (c *Controller) Start(device devices.DeviceInfo, dest string, opts ScanOptions) (<-chan Event, error) {
	c.mu.Lock()
	// A launch in flight holds the session slot before c.session is assigned,
	// so the state check covers the window between claiming and assignment.
	if c.session != nil || c.state == StateLaunching {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	c.state = StateLaunching
	c.mu.Unlock()

	sess, err := c.launch(device, dest, opts)
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.session = sess
	c.state = StateRunning
	c.mu.Unlock()

	go c.run(sess)
	return sess.events, nil
}

func (c *Controller) launch(device devices.DeviceInfo, dest string, opts ScanOptions) (*session, error) {
	binary, err := resolveBinary(c.opts.BinaryPath)
	if err != nil {
		return nil, &TaskError{Kind: ErrBinaryNotFound, Name: c.opts.BinaryPath, wrapped: err}
	}

	if err := ensureWritableDir(dest); err != nil {
		return nil, &TaskError{Kind: ErrOutputDirNotWritable, Path: dest, wrapped: err}
	}

	id := uuid.NewString()
	logPath := filepath.Join(c.opts.ScratchDir, "salvage-"+id+".log")
	scriptPath := filepath.Join(c.opts.ScratchDir, "salvage-"+id+".exp")

	if err := os.WriteFile(logPath, nil, 0o644); err != nil {
		return nil, &TaskError{Kind: ErrOutputDirNotWritable, Path: c.opts.ScratchDir, wrapped: err}
	}

	table := c.opts.PromptTable
	if len(table) == 0 {
		table = DefaultPromptTable(opts)
	}
	script := GenerateScriptWithTable(binary, dest, device.ID, logPath, table)
	if err := WriteScript(scriptPath, script); err != nil {
		os.Remove(logPath)
		return nil, &TaskError{Kind: ErrOutputDirNotWritable, Path: c.opts.ScratchDir, wrapped: err}
	}

	command := fmt.Sprintf("%s -f %s", c.opts.ExpectPath, elevate.ShellQuote(scriptPath))
	cmd, err := c.opts.Runner.Start(context.Background(), command)
	if err != nil {
		os.Remove(logPath)
		os.Remove(scriptPath)
		return nil, &TaskError{Kind: ErrBinaryNotFound, Name: c.opts.ExpectPath, wrapped: err}
	}

	log.Printf("session %s: engine launched for %s -> %s", id, device.ID, dest)

	now := time.Now()
	return &session{
		id:             id,
		device:         device,
		dest:           dest,
		opts:           opts,
		logPath:        logPath,
		scriptPath:     scriptPath,
		cmd:            cmd,
		events:         make(chan Event, 256),
		stop:           make(chan struct{}),
		lastRecognized: now,
		lastSectorAt:   now,
		limiter:        rate.NewLimiter(rate.Every(c.opts.ProgressInterval), 1),
	}, nil
}

// run tails the session log until the subprocess exits or the session is
// cancelled, then finalizes.
func (c *Controller) run(sess *session) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	waitCh := make(chan error, 1)
	go func() { waitCh <- sess.cmd.Wait() }()

	for {
		select {
		case <-sess.stop:
			// Cancelled: teardown already happened on the cancelling side.
			return
		case <-ticker.C:
			c.poll(sess)
		case <-waitCh:
			c.finalize(sess)
			return
		}
	}
}

// poll reads newly appended log bytes, sanitizes them, and feeds complete
// lines through the grammar. It never blocks on the subprocess.
func (c *Controller) poll(sess *session) {
	data, err := readNewBytes(sess.logPath, &sess.offset)
	if err != nil || len(data) == 0 {
		c.checkStall(sess, false)
		return
	}

	sess.pending = append(sess.pending, data...)

	// Cut at the last line break so a partial trailing line (or an escape
	// sequence still being written) waits for the next poll. Escape sequences
	// never span a \r or \n, so this cut can't split one.
	cut := lastLineBreak(sess.pending)
	if cut < 0 {
		c.checkStall(sess, true)
		return
	}
	complete := sess.pending[:cut+1]
	sess.pending = append(sess.pending[:0:0], sess.pending[cut+1:]...)

	sanitized := term.Sanitize(complete)

	var chunk []string
	recognized := false
	for _, line := range strings.Split(sanitized, "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}

		// The engine redraws status lines in place; collapse immediate
		// repeats so the consumer's log stays readable.
		if line != sess.lastLine {
			chunk = append(chunk, line)
			sess.lastLine = line
		}

		for _, marker := range permissionMarkers {
			if strings.Contains(line, marker) {
				sess.permDenied = true
			}
		}

		if ParseLine(line, &sess.record) {
			recognized = true
		}
	}

	if recognized {
		sess.lastRecognized = time.Now()
		sess.stallWarned = false
	}
	c.checkStall(sess, true)

	if len(chunk) > 0 {
		sess.send(LogChunk{Text: strings.Join(chunk, "\n")})
	}

	if recognized && sess.limiter.Allow() {
		sess.send(c.progressEvent(sess))
	}
}

// checkStall emits one soft warning when output keeps flowing but none of it
// has matched the grammar for a while, instead of silently stalling the
// indicator.
func (c *Controller) checkStall(sess *session, sawOutput bool) {
	if !sawOutput || sess.stallWarned {
		return
	}
	if time.Since(sess.lastRecognized) < c.opts.StallWindow {
		return
	}
	sess.stallWarned = true
	sess.send(Warning{Message: "engine output no longer matches the expected format; progress may be stale"})
}

func (c *Controller) progressEvent(sess *session) Progress {
	rec := &sess.record

	now := time.Now()
	if rec.CurrentSector > sess.lastSector {
		elapsed := now.Sub(sess.lastSectorAt).Seconds()
		if elapsed > 0 {
			bps := float64((rec.CurrentSector-sess.lastSector)*sectorBytes) / elapsed
			sess.speedLabel = humanize.Bytes(uint64(bps)) + "/s"
		}
		sess.lastSector = rec.CurrentSector
		sess.lastSectorAt = now
	}

	percent := -1.0
	if f := rec.Fraction(); f >= 0 {
		percent = f * 100
	}

	return Progress{
		FilesFound: rec.FilesFound,
		SpeedLabel: sess.speedLabel,
		Percent:    percent,
		EtaSeconds: rec.EstimatedSeconds,
	}
}

// finalize runs after the subprocess exits: one last poll, sentinel recovery,
// outcome classification, temp file cleanup, and the single terminal event.
func (c *Controller) finalize(sess *session) {
	c.mu.Lock()
	if c.session != sess {
		// Cancelled while waiting; nothing left to do.
		c.mu.Unlock()
		return
	}
	c.state = StateFinalizing
	c.mu.Unlock()

	// Give trailing writes (the sentinel included) a moment to land.
	time.Sleep(c.opts.GraceDelay)
	c.poll(sess)

	code, hasSentinel := c.readSentinel(sess.logPath)
	outcome := classifyOutcome(code, hasSentinel, sess.permDenied, &sess.record, sess.dest)

	if err := sess.removeTempFiles(); err != nil {
		log.Printf("session %s: temp cleanup: %v", sess.id, err)
	}

	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	switch outcome.(type) {
	case Completed:
		c.state = StateCompleted
	case Cancelled:
		c.state = StateCancelled
	default:
		c.state = StateFailed
	}
	c.session = nil
	c.mu.Unlock()

	log.Printf("session %s: finished %T (sentinel=%v code=%d files=%d)",
		sess.id, outcome, hasSentinel, code, sess.record.FilesFound)
	sess.finish(outcome)
}

// readSentinel scans the log for the last sentinel line. The expect script
// writes it after the engine exits, but elevation may still be flushing, so
// the read is retried briefly before concluding the sentinel is absent.
func (c *Controller) readSentinel(logPath string) (code int, ok bool) {
	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(50*time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		data, err := os.ReadFile(logPath)
		if err != nil {
			return retry.RetryableError(err)
		}
		idx := strings.LastIndex(string(data), SentinelPrefix)
		if idx < 0 {
			return retry.RetryableError(fmt.Errorf("sentinel not yet present"))
		}
		rest := string(data[idx+len(SentinelPrefix):])
		if end := strings.IndexAny(rest, "\r\n"); end >= 0 {
			rest = rest[:end]
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("malformed sentinel %q", rest))
		}
		code = n
		return nil
	})
	return code, err == nil
}

// classifyOutcome reconciles the sentinel exit code with the parsed semantic
// outcome. The engine's exit status is unreliable on this platform, so
// evidence of recovered files deliberately outranks a non-zero code.
func classifyOutcome(code int, hasSentinel, permDenied bool, rec *ProgressRecord, dest string) Event {
	// No sentinel at all: elevation itself never ran the engine (e.g. the
	// credential prompt was dismissed).
	if !hasSentinel {
		return Cancelled{}
	}

	if permDenied {
		return Failed{Err: &TaskError{Kind: ErrInsufficientPermissions}}
	}

	// A clean code, a completion marker, or at least one recovered file all
	// count as success: the engine exits non-zero after the harmless
	// session-save prompt.
	if code == 0 || rec.Completed || rec.FilesFound > 0 {
		return Completed{TotalFiles: rec.FilesFound, OutputLocation: dest}
	}

	// 143 = 128+SIGTERM; expect reports the bare signal number as 15.
	if code == 143 || code == 15 {
		return Cancelled{}
	}

	return Failed{Err: &TaskError{Kind: ErrProcessExited, Code: code}}
}

// Cancel terminates the active session. The termination signal goes through
// the same elevation path used to launch; the poller is torn down immediately
// and Cancelled is emitted synchronously, without waiting for the subprocess
// to confirm. Safe to call at any time; a no-op when nothing is active.
func (c *Controller) Cancel() {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateCancelled
	c.session = nil
	c.mu.Unlock()

	close(sess.stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.opts.Runner.Terminate(ctx, sess.scriptPath); err != nil {
		log.Printf("session %s: terminate: %v", sess.id, err)
	}

	if err := sess.removeTempFiles(); err != nil {
		log.Printf("session %s: temp cleanup: %v", sess.id, err)
	}

	log.Printf("session %s: cancelled", sess.id)
	sess.finish(Cancelled{})
}

// send delivers a non-terminal event. Progress and log chunks are dropped
// rather than ever blocking the poller on a slow consumer.
func (s *session) send(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// finish delivers the single terminal event and closes the stream. Later
// calls are no-ops, which is what guarantees nothing follows a Cancelled.
func (s *session) finish(ev Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.events <- ev
	close(s.events)
}

func (s *session) removeTempFiles() error {
	var err error
	if e := os.Remove(s.logPath); e != nil && !os.IsNotExist(e) {
		err = multierr.Append(err, e)
	}
	if e := os.Remove(s.scriptPath); e != nil && !os.IsNotExist(e) {
		err = multierr.Append(err, e)
	}
	return err
}

// resolveBinary locates the engine binary, via PATH for bare names.
func resolveBinary(path string) (string, error) {
	if strings.ContainsRune(path, os.PathSeparator) {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", path)
		}
		return path, nil
	}
	return exec.LookPath(path)
}

// ensureWritableDir creates dir if needed and probes that files can actually
// be created in it.
func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".salvage-probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// readNewBytes returns the bytes appended to path since *offset, advancing
// the offset. A missing or truncated file reads as empty.
func readNewBytes(path string, offset *int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() <= *offset {
		return nil, nil
	}

	if _, err := f.Seek(*offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	*offset += int64(len(data))
	return data, nil
}

// lastLineBreak finds the last \n or \r in p, or -1.
func lastLineBreak(p []byte) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '\n' || p[i] == '\r' {
			return i
		}
	}
	return -1
}
