package photorec

import (
	"fmt"
	"os"
	"strings"
)

// PhotoRec has no usable non-interactive mode on this platform, so each
// session is driven by a generated expect(1) script: an explicit table of
// prompt substrings and the keystrokes to answer them with, looped until the
// engine exits or a hard timeout fires. The script also appends a sentinel
// line carrying the engine's real exit code to the session log, because the
// privilege-elevation wrapper the engine is launched through discards it.

// SentinelPrefix starts the log line that carries the engine's true exit code.
const SentinelPrefix = "PHOTOREC_EXIT:"

// ScriptTimeoutSeconds is the hard ceiling on one driven session. When it
// fires the script attempts a graceful quit and still records a sentinel.
const ScriptTimeoutSeconds = 2 * 60 * 60

// PromptRule maps a prompt substring the engine is expected to draw to the
// keystrokes that answer it.
type PromptRule struct {
	// Match is the literal substring to wait for.
	Match string `yaml:"match"`
	// Send is the keystroke response; \r is Enter, \033[B is arrow-down.
	Send string `yaml:"send"`
}

// DefaultPromptTable is the menu flow of the pinned PhotoRec build. Rules are
// checked in order, so the more specific prompts come first.
//
// The filesystem-type prompt always navigates to "Other": on this platform
// the scanned media is FAT/NTFS/exFAT/HFS+, never the ext family the engine
// defaults to.
func DefaultPromptTable(opts ScanOptions) []PromptRule {
	coverage := "\\r" // Free: scan unallocated space only (first choice)
	if opts.ScanWholePartition {
		coverage = "\\033\\[B\\r" // Whole: second choice
	}

	return []PromptRule{
		// "PhotoRec has been unable to create new file" session-save failure:
		// never quit here, declining preserves everything recovered so far.
		{Match: "unable to create", Send: "N"},
		// Filesystem-type prompt: [ ext2/ext3 ] [ Other ] — pick Other.
		{Match: "filesystem type", Send: "\\033\\[B\\r"},
		// "Please choose if all space need to be analysed"
		{Match: "space need to be analysed", Send: coverage},
		// Destination browser: C confirms the preselected directory.
		{Match: "when the destination is correct", Send: "C"},
		// Final summary screen: dismiss it, then quit out of the menus.
		{Match: "Recovery completed", Send: "\\rq\\r"},
		// Initial media/partition selection: accept the default.
		{Match: "Proceed", Send: "\\r"},
	}
}

// GenerateScript renders the expect script that drives one session with the
// default prompt table.
func GenerateScript(binaryPath, outputDir, deviceID, logPath string, opts ScanOptions) string {
	return GenerateScriptWithTable(binaryPath, outputDir, deviceID, logPath, DefaultPromptTable(opts))
}

// GenerateScriptWithTable renders the expect script with a caller-supplied
// prompt table, letting deployments patch the table when the engine build
// changes its wording.
func GenerateScriptWithTable(binaryPath, outputDir, deviceID, logPath string, table []PromptRule) string {
	var b strings.Builder

	fmt.Fprintf(&b, "#!/usr/bin/expect -f\n")
	fmt.Fprintf(&b, "# Drives the recovery engine through its menu flow unattended.\n\n")
	fmt.Fprintf(&b, "set timeout %d\n", ScriptTimeoutSeconds)
	fmt.Fprintf(&b, "log_user 0\n")
	fmt.Fprintf(&b, "log_file -a %s\n\n", tclQuote(logPath))

	fmt.Fprintf(&b, "spawn %s /log /d %s %s\n\n", tclQuote(binaryPath), tclQuote(outputDir), tclQuote(deviceID))

	b.WriteString("expect {\n")
	for _, rule := range table {
		fmt.Fprintf(&b, "    -ex %s { send -- \"%s\"; exp_continue }\n", tclQuote(rule.Match), rule.Send)
	}
	b.WriteString("    timeout {\n")
	b.WriteString("        send \"q\"\n")
	b.WriteString("        expect -timeout 10 eof\n")
	b.WriteString("        catch {exec kill -TERM [exp_pid]}\n")
	b.WriteString("    }\n")
	b.WriteString("    eof {}\n")
	b.WriteString("}\n\n")

	b.WriteString("catch wait result\n")
	b.WriteString("set code [lindex $result 3]\n")
	b.WriteString("if {$code eq \"\"} { set code 1 }\n")
	fmt.Fprintf(&b, "set f [open %s a]\n", tclQuote(logPath))
	fmt.Fprintf(&b, "puts $f \"%s$code\"\n", SentinelPrefix)
	b.WriteString("close $f\n")

	return b.String()
}

// WriteScript writes the script to path, executable by owner only.
func WriteScript(path, script string) error {
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		return fmt.Errorf("write navigation script: %w", err)
	}
	return nil
}

// tclQuote brace-quotes s for Tcl. Braces don't appear in the temp paths and
// prompt strings this is used for; they're stripped rather than escaped to
// keep the generated script trivially parseable.
func tclQuote(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '{' || r == '}' {
			return -1
		}
		return r
	}, s)
	return "{" + s + "}"
}
