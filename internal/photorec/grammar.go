package photorec

import (
	"regexp"
	"strconv"
)

// The line grammar below targets the output of one pinned PhotoRec version.
// It is deliberately partial: lines it doesn't recognize are ignored without
// error, and misreporting is considered worse than reporting nothing.

var (
	// "Pass 1 - Reading sector 32768/124735488, 14 files found"
	// Full-screen redraws sometimes drop the padding between the label and the
	// numbers, so the whitespace is zero-or-more throughout.
	sectorRe = regexp.MustCompile(`Pass\s*(\d+)\s*-\s*Reading sector\s*(\d+)/(\d+),\s*(\d+)\s*files? found`)

	// "Elapsed time 0h01m23s - Estimated time to completion 0h06m08"
	// Matched by shape rather than by label: any line carrying two
	// HhMMmSSs-style durations. The trailing "s" is optional (the engine drops
	// it on the estimate).
	durationRe = regexp.MustCompile(`(\d+)h([0-5]?\d)m([0-5]?\d)s?`)

	// "jpg: 14 recovered" — the label may carry a wildcard ("mov/mdat", "tx?").
	categoryRe = regexp.MustCompile(`^\s*([A-Za-z0-9_*?./-]+):\s*(\d+)\s+recovered`)

	completionRe = regexp.MustCompile(`Recovery completed`)
)

// ParseLine feeds one sanitized output line into rec and reports whether the
// line matched the grammar. Unrecognized lines leave rec untouched.
func ParseLine(line string, rec *ProgressRecord) bool {
	if m := sectorRe.FindStringSubmatch(line); m != nil {
		cur, _ := strconv.ParseInt(m[2], 10, 64)
		total, _ := strconv.ParseInt(m[3], 10, 64)
		files, _ := strconv.Atoi(m[4])

		rec.CurrentSector = cur
		// The engine occasionally redraws with a stale total; once seen, the
		// total never shrinks.
		if total > rec.TotalSectors {
			rec.TotalSectors = total
		}
		if files > rec.FilesFound {
			rec.FilesFound = files
		}
		return true
	}

	if m := durationRe.FindAllStringSubmatch(line, 2); len(m) == 2 {
		rec.ElapsedSeconds = durationSeconds(m[0])
		rec.EstimatedSeconds = durationSeconds(m[1])
		return true
	}

	if m := categoryRe.FindStringSubmatch(line); m != nil {
		count, _ := strconv.Atoi(m[2])
		if rec.RecoveredByCategory == nil {
			rec.RecoveredByCategory = make(map[string]int)
		}
		rec.RecoveredByCategory[m[1]] = count

		// filesFound is floored at the category sum but never lowered: the
		// per-sector counter may legitimately run ahead of the report screen.
		sum := 0
		for _, n := range rec.RecoveredByCategory {
			sum += n
		}
		if sum > rec.FilesFound {
			rec.FilesFound = sum
		}
		return true
	}

	if completionRe.MatchString(line) {
		rec.Completed = true
		return true
	}

	return false
}

func durationSeconds(m []string) int {
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	return h*3600 + min*60 + s
}
