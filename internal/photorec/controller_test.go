package photorec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pcormier/salvage/internal/devices"
	"github.com/pcormier/salvage/internal/elevate"
)

// fakeRunner stands in for the elevation wrapper: it runs a plain shell
// command so tests control the subprocess lifetime, and records terminations.
type fakeRunner struct {
	command string // shell command to actually run

	mu         sync.Mutex
	started    []string
	terminated []string
	proc       *exec.Cmd
}

var _ elevate.Runner = (*fakeRunner)(nil)

func (f *fakeRunner) Start(ctx context.Context, command string) (*exec.Cmd, error) {
	cmd := exec.Command("sh", "-c", f.command)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.started = append(f.started, command)
	f.proc = cmd
	f.mu.Unlock()
	return cmd, nil
}

func (f *fakeRunner) Terminate(ctx context.Context, pattern string) error {
	f.mu.Lock()
	f.terminated = append(f.terminated, pattern)
	proc := f.proc
	f.mu.Unlock()
	if proc != nil && proc.Process != nil {
		proc.Process.Kill()
	}
	return nil
}

func testController(t *testing.T, runner elevate.Runner) (*Controller, string) {
	t.Helper()
	scratch := t.TempDir()
	c := NewController(Options{
		BinaryPath:       "/bin/sh", // exists; stands in for the engine binary
		ExpectPath:       "/bin/sh",
		ScratchDir:       scratch,
		Runner:           runner,
		PollInterval:     20 * time.Millisecond,
		ProgressInterval: time.Millisecond,
		GraceDelay:       20 * time.Millisecond,
		StallWindow:      time.Hour,
	})
	return c, scratch
}

// sessionLogPath finds the temp log the controller created for the session.
func sessionLogPath(t *testing.T, scratch string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		matches, _ := filepath.Glob(filepath.Join(scratch, "salvage-*.log"))
		if len(matches) == 1 {
			return matches[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session log never appeared")
	return ""
}

func appendLog(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		t.Fatal(err)
	}
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("event stream never terminated; got %d events", len(got))
		}
	}
}

func TestControllerCompletedSession(t *testing.T) {
	runner := &fakeRunner{command: "sleep 1"}
	c, scratch := testController(t, runner)

	events, err := c.Start(devices.DeviceInfo{ID: "/dev/disk7"}, filepath.Join(scratch, "out"), ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}

	logPath := sessionLogPath(t, scratch)
	appendLog(t, logPath, "\x1b[2JPass 1 - Reading sector 32768/124735488, 14 files found\r")
	appendLog(t, logPath, "jpg: 14 recovered\n")
	appendLog(t, logPath, "Recovery completed.\n")
	appendLog(t, logPath, SentinelPrefix+"0\n")

	got := collectEvents(t, events)
	if len(got) == 0 {
		t.Fatal("no events emitted")
	}

	var sawProgress, sawLog bool
	for _, ev := range got[:len(got)-1] {
		switch ev.(type) {
		case Progress:
			sawProgress = true
		case LogChunk:
			sawLog = true
		case Completed, Failed, Cancelled:
			t.Fatalf("terminal event %T before the end of the stream", ev)
		}
	}
	if !sawProgress || !sawLog {
		t.Errorf("missing progress (%v) or log (%v) events", sawProgress, sawLog)
	}

	terminal, ok := got[len(got)-1].(Completed)
	if !ok {
		t.Fatalf("terminal event = %T (%+v), want Completed", got[len(got)-1], got[len(got)-1])
	}
	if terminal.TotalFiles != 14 {
		t.Errorf("TotalFiles = %d, want 14", terminal.TotalFiles)
	}

	if c.State() != StateCompleted {
		t.Errorf("state = %v, want completed", c.State())
	}

	// Temp artifacts are removed regardless of outcome.
	if matches, _ := filepath.Glob(filepath.Join(scratch, "salvage-*")); len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestControllerMissingSentinelMeansCancelled(t *testing.T) {
	// The subprocess exits without a sentinel ever being written, which is
	// what a dismissed credential prompt looks like.
	runner := &fakeRunner{command: "sleep 0"}
	c, scratch := testController(t, runner)

	events, err := c.Start(devices.DeviceInfo{ID: "/dev/disk7"}, filepath.Join(scratch, "out"), ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}

	got := collectEvents(t, events)
	if len(got) == 0 {
		t.Fatal("no events emitted")
	}
	if _, ok := got[len(got)-1].(Cancelled); !ok {
		t.Fatalf("terminal event = %T, want Cancelled", got[len(got)-1])
	}
	if c.State() != StateCancelled {
		t.Errorf("state = %v, want cancelled", c.State())
	}
}

func TestControllerCancelMidSession(t *testing.T) {
	runner := &fakeRunner{command: "sleep 30"}
	c, scratch := testController(t, runner)

	events, err := c.Start(devices.DeviceInfo{ID: "/dev/disk7"}, filepath.Join(scratch, "out"), ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}

	logPath := sessionLogPath(t, scratch)
	appendLog(t, logPath, "Pass 1 - Reading sector 100/1000, 2 files found\n")

	// Wait for at least one event so the poller is demonstrably live.
	select {
	case <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no events before cancel")
	}

	c.Cancel()

	got := collectEvents(t, events)
	if len(got) == 0 {
		t.Fatal("no events after cancel; want a Cancelled terminal event")
	}
	last := got[len(got)-1]
	if _, ok := last.(Cancelled); !ok {
		t.Fatalf("last event = %T, want Cancelled", last)
	}

	runner.mu.Lock()
	terminated := len(runner.terminated)
	runner.mu.Unlock()
	if terminated != 1 {
		t.Errorf("Terminate called %d times, want 1", terminated)
	}

	if matches, _ := filepath.Glob(filepath.Join(scratch, "salvage-*")); len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}

	// Cancel again is a harmless no-op.
	c.Cancel()
}

func TestControllerRejectsSecondSession(t *testing.T) {
	runner := &fakeRunner{command: "sleep 30"}
	c, scratch := testController(t, runner)
	defer c.Cancel()

	_, err := c.Start(devices.DeviceInfo{ID: "/dev/disk7"}, filepath.Join(scratch, "out"), ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Start(devices.DeviceInfo{ID: "/dev/disk8"}, filepath.Join(scratch, "out2"), ScanOptions{}); err != ErrSessionActive {
		t.Errorf("second Start error = %v, want ErrSessionActive", err)
	}
}

// blockingRunner parks Start until released, holding the session inside the
// launch window.
type blockingRunner struct {
	fakeRunner
	release chan struct{}
}

func (b *blockingRunner) Start(ctx context.Context, command string) (*exec.Cmd, error) {
	<-b.release
	return b.fakeRunner.Start(ctx, command)
}

func TestControllerRejectsStartDuringLaunch(t *testing.T) {
	runner := &blockingRunner{
		fakeRunner: fakeRunner{command: "sleep 0"},
		release:    make(chan struct{}),
	}
	c, scratch := testController(t, runner)

	type startResult struct {
		events <-chan Event
		err    error
	}
	first := make(chan startResult, 1)
	go func() {
		events, err := c.Start(devices.DeviceInfo{ID: "/dev/disk7"}, filepath.Join(scratch, "out"), ScanOptions{})
		first <- startResult{events, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != StateLaunching && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if c.State() != StateLaunching {
		t.Fatal("first Start never reached the launch window")
	}

	// The first session hasn't been assigned yet; the second call must still
	// be rejected rather than spawning a second elevated subprocess.
	if _, err := c.Start(devices.DeviceInfo{ID: "/dev/disk8"}, filepath.Join(scratch, "out2"), ScanOptions{}); err != ErrSessionActive {
		t.Errorf("second Start error = %v, want ErrSessionActive", err)
	}

	close(runner.release)
	res := <-first
	if res.err != nil {
		t.Fatal(res.err)
	}
	collectEvents(t, res.events)

	runner.mu.Lock()
	started := len(runner.started)
	runner.mu.Unlock()
	if started != 1 {
		t.Errorf("%d subprocesses spawned, want 1", started)
	}
}

func TestControllerBinaryNotFound(t *testing.T) {
	runner := &fakeRunner{command: "true"}
	scratch := t.TempDir()
	c := NewController(Options{
		BinaryPath: filepath.Join(scratch, "no-such-engine"),
		ScratchDir: scratch,
		Runner:     runner,
	})

	_, err := c.Start(devices.DeviceInfo{ID: "/dev/disk7"}, filepath.Join(scratch, "out"), ScanOptions{})
	taskErr, ok := err.(*TaskError)
	if !ok || taskErr.Kind != ErrBinaryNotFound {
		t.Fatalf("err = %v, want TaskError(binary_not_found)", err)
	}
	if c.State() != StateFailed {
		t.Errorf("state = %v, want failed", c.State())
	}

	// Nothing was spawned.
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.started) != 0 {
		t.Errorf("runner started %v, want nothing", runner.started)
	}
}

func TestControllerUnwritableDestination(t *testing.T) {
	runner := &fakeRunner{command: "true"}
	c, scratch := testController(t, runner)

	// A destination under a regular file can't be created.
	blocker := filepath.Join(scratch, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := c.Start(devices.DeviceInfo{ID: "/dev/disk7"}, filepath.Join(blocker, "out"), ScanOptions{})
	taskErr, ok := err.(*TaskError)
	if !ok || taskErr.Kind != ErrOutputDirNotWritable {
		t.Fatalf("err = %v, want TaskError(output_dir_not_writable)", err)
	}
}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		hasSentinel bool
		permDenied  bool
		rec         ProgressRecord
		want        string
	}{
		{"sentinel absent", 0, false, false, ProgressRecord{}, "cancelled"},
		{"permission latch beats exit zero", 0, true, true, ProgressRecord{FilesFound: 5}, "insufficient_permissions"},
		{"exit zero no evidence is empty success", 0, true, false, ProgressRecord{}, "completed:0"},
		{"completion marker beats bad code", 2, true, false, ProgressRecord{Completed: true, FilesFound: 7}, "completed:7"},
		{"recovered files beat bad code", 1, true, false, ProgressRecord{FilesFound: 3}, "completed:3"},
		{"sigterm code", 143, true, false, ProgressRecord{}, "cancelled"},
		{"bare signal number", 15, true, false, ProgressRecord{}, "cancelled"},
		{"unexplained failure", 2, true, false, ProgressRecord{}, "failed:2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyOutcome(tt.code, tt.hasSentinel, tt.permDenied, &tt.rec, "/out")
			var label string
			switch ev := got.(type) {
			case Cancelled:
				label = "cancelled"
			case Completed:
				label = "completed"
				if ev.TotalFiles == tt.rec.FilesFound {
					label += ":" + itoa(ev.TotalFiles)
				}
			case Failed:
				switch ev.Err.Kind {
				case ErrInsufficientPermissions:
					label = "insufficient_permissions"
				case ErrProcessExited:
					label = "failed:" + itoa(ev.Err.Code)
				}
			}
			if label != tt.want {
				t.Errorf("classifyOutcome() = %T (%s), want %s", got, label, tt.want)
			}
		})
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestControllerPermissionLatch(t *testing.T) {
	runner := &fakeRunner{command: "sleep 1"}
	c, scratch := testController(t, runner)

	events, err := c.Start(devices.DeviceInfo{ID: "/dev/disk7"}, filepath.Join(scratch, "out"), ScanOptions{})
	if err != nil {
		t.Fatal(err)
	}

	logPath := sessionLogPath(t, scratch)
	appendLog(t, logPath, "Unable to open device: Permission denied\n")
	appendLog(t, logPath, SentinelPrefix+"0\n")

	got := collectEvents(t, events)
	failed, ok := got[len(got)-1].(Failed)
	if !ok {
		t.Fatalf("terminal event = %T, want Failed", got[len(got)-1])
	}
	if failed.Err.Kind != ErrInsufficientPermissions {
		t.Errorf("Kind = %v, want insufficient_permissions", failed.Err.Kind)
	}
}
