package photorec

// ScanOptions configures a recovery session. The zero value scans free space
// only and recovers every file type the engine recognizes.
type ScanOptions struct {
	// ScanWholePartition extracts files from the whole partition instead of
	// unallocated space only.
	ScanWholePartition bool

	// FileTypeFilter restricts the recovered-file summary to the given
	// lowercase extensions. Empty means "recover all recognized types".
	FileTypeFilter map[string]struct{}
}

// FileTypeSet builds a FileTypeFilter from a list of extensions, normalizing
// case and stripping leading dots.
func FileTypeSet(types []string) map[string]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		t = normalizeExt(t)
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func normalizeExt(s string) string {
	for len(s) > 0 && s[0] == '.' {
		s = s[1:]
	}
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// ProgressRecord accumulates what the output grammar has learned about the
// running session. It is owned by the controller's polling goroutine; nothing
// else writes to it.
type ProgressRecord struct {
	CurrentSector       int64
	TotalSectors        int64
	FilesFound          int
	ElapsedSeconds      int
	EstimatedSeconds    int
	RecoveredByCategory map[string]int
	Completed           bool
}

// Fraction estimates overall completion in [0,1]. Sector counters are
// preferred; when they're momentarily stale the elapsed/estimated times keep
// the indicator advancing, capped below 1 so time alone never reports
// completion. Returns -1 when no estimate is available.
func (r *ProgressRecord) Fraction() float64 {
	if r.TotalSectors > 0 && r.CurrentSector > 0 {
		f := float64(r.CurrentSector) / float64(r.TotalSectors)
		if f > 1 {
			f = 1
		}
		return f
	}
	if total := r.ElapsedSeconds + r.EstimatedSeconds; total > 0 {
		f := float64(r.ElapsedSeconds) / float64(total)
		if f > 0.99 {
			f = 0.99
		}
		return f
	}
	return -1
}
