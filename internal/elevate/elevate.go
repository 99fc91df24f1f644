// Package elevate runs commands with administrator privileges.
//
// On macOS elevation goes through osascript's "do shell script ... with
// administrator privileges", which prompts for credentials via the system
// dialog. That indirection swallows the wrapped command's exit status, which
// is why callers that care about it must recover it some other way (the
// recovery controller uses a sentinel line in its log). Elsewhere sudo is
// used directly.
package elevate

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Runner launches and terminates elevated commands. Termination goes through
// the same elevation path as launch so an unprivileged supervisor can still
// signal a root-owned process.
type Runner interface {
	// Start launches the shell command elevated and returns the started
	// process handle. The handle is the elevation wrapper, not the wrapped
	// command; waiting on it reports when the whole elevated pipeline exits.
	Start(ctx context.Context, command string) (*exec.Cmd, error)

	// Terminate sends SIGTERM, elevated, to every process whose command line
	// matches pattern.
	Terminate(ctx context.Context, pattern string) error
}

// NewRunner picks the elevation mechanism for the current platform.
func NewRunner() Runner {
	if runtime.GOOS == "darwin" {
		return &osascriptRunner{}
	}
	return &sudoRunner{}
}

type osascriptRunner struct{}

var _ Runner = (*osascriptRunner)(nil)

func (r *osascriptRunner) Start(ctx context.Context, command string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, "osascript", "-e", adminScript(command))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start elevated command: %w", err)
	}
	return cmd, nil
}

func (r *osascriptRunner) Terminate(ctx context.Context, pattern string) error {
	kill := fmt.Sprintf("pkill -TERM -f %s", ShellQuote(pattern))
	return exec.CommandContext(ctx, "osascript", "-e", adminScript(kill)).Run()
}

// adminScript wraps a shell command into an AppleScript elevation one-liner.
func adminScript(command string) string {
	quoted := strings.ReplaceAll(command, `\`, `\\`)
	quoted = strings.ReplaceAll(quoted, `"`, `\"`)
	return fmt.Sprintf(`do shell script "%s" with administrator privileges`, quoted)
}

type sudoRunner struct{}

var _ Runner = (*sudoRunner)(nil)

func (r *sudoRunner) Start(ctx context.Context, command string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, "sudo", "sh", "-c", command)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start elevated command: %w", err)
	}
	return cmd, nil
}

func (r *sudoRunner) Terminate(ctx context.Context, pattern string) error {
	return exec.CommandContext(ctx, "sudo", "pkill", "-TERM", "-f", pattern).Run()
}

// ShellQuote single-quotes s for safe interpolation into a shell command line.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
