// Package results enumerates the files a finished recovery session produced.
//
// The engine writes into the chosen destination, but once a directory fills
// up it rolls over to numbered siblings ("out.1", "out.2", ...), so all of
// those are searched too.
package results

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Summary describes what was recovered.
type Summary struct {
	TotalFiles int            `json:"total_files"`
	TotalBytes int64          `json:"total_bytes"`
	ByType     map[string]int `json:"by_type"`
	// SearchedDirs lists every directory that was walked, in order.
	SearchedDirs []string `json:"searched_dirs"`
}

// Enumerate walks dest and its numbered siblings and tallies recovered files.
// A non-empty filter restricts the tally to those lowercase extensions.
func Enumerate(dest string, filter map[string]struct{}) (*Summary, error) {
	summary := &Summary{ByType: make(map[string]int)}

	for _, dir := range searchDirs(dest) {
		summary.SearchedDirs = append(summary.SearchedDirs, dir)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtrees don't fail the whole enumeration.
				return nil
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
			if len(filter) > 0 {
				if _, ok := filter[ext]; !ok {
					return nil
				}
			}
			summary.TotalFiles++
			summary.ByType[ext]++
			if info, err := d.Info(); err == nil {
				summary.TotalBytes += info.Size()
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}

	return summary, nil
}

// searchDirs returns dest plus its numbered siblings, stopping at the first
// missing one. The engine numbers rollover directories contiguously.
func searchDirs(dest string) []string {
	dirs := []string{dest}
	for i := 1; ; i++ {
		sibling := fmt.Sprintf("%s.%d", dest, i)
		if info, err := os.Stat(sibling); err != nil || !info.IsDir() {
			break
		}
		dirs = append(dirs, sibling)
	}
	return dirs
}
