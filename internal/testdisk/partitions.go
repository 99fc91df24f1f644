// Package testdisk parses partition listings out of TestDisk log files.
//
// TestDisk writes its findings to a plain-text log; the interesting lines are
// the per-partition rows of the analysis table. Everything else (banners,
// geometry dumps, ncurses redraw noise) is ignored.
package testdisk

import (
	"regexp"
	"strconv"
	"strings"
)

// PartitionStatus classifies a partition row by its leading marker character.
type PartitionStatus string

const (
	StatusPrimary  PartitionStatus = "primary"
	StatusDeleted  PartitionStatus = "deleted"
	StatusLogical  PartitionStatus = "logical"
	StatusExtended PartitionStatus = "extended"
)

// PartitionRecord is one row of a TestDisk partition table listing.
type PartitionRecord struct {
	Index       int             `json:"index"`
	TypeLabel   string          `json:"type_label"`
	SizeBytes   int64           `json:"size_bytes"`
	Status      PartitionStatus `json:"status"`
	StartSector uint64          `json:"start_sector"`
	EndSector   uint64          `json:"end_sector"`
}

const sectorSize = 512

// statusMarkers maps the single-character marker that starts a partition row
// to its status. "*" is an active (bootable) primary partition.
var statusMarkers = map[byte]PartitionStatus{
	'*': StatusPrimary,
	'P': StatusPrimary,
	'D': StatusDeleted,
	'L': StatusLogical,
	'E': StatusExtended,
}

// partitionRowRe matches a marker, a type label (which may contain single
// internal spaces, e.g. "HPFS - NTFS"), two-or-more spaces, then the numeric
// columns, optionally followed by a bracketed volume name.
var partitionRowRe = regexp.MustCompile(
	`^\s*([*PDLE])\s+(\S(?:.*?\S)?)\s{2,}(\d[\d ]*\d|\d)(?:\s+\[[^\]]*\])?\s*$`)

// ParsePartitions extracts partition records from a finished TestDisk log.
// Lines that don't look like partition rows are skipped silently; an empty or
// partition-less log yields an empty slice, never an error.
func ParsePartitions(logText string) []PartitionRecord {
	var records []PartitionRecord

	for _, line := range strings.Split(logText, "\n") {
		rec, ok := parseRow(line)
		if !ok {
			continue
		}
		rec.Index = len(records) + 1
		records = append(records, rec)
	}

	if records == nil {
		return []PartitionRecord{}
	}
	return records
}

// parseRow parses a single candidate partition row.
//
// The numeric columns are, in TestDisk's CHS display, start cylinder/head/
// sector, end cylinder/head/sector, and size in sectors. Logs written with
// sector units carry only start sector, end sector, and size. Both shapes are
// accepted; anything else is rejected.
func parseRow(line string) (PartitionRecord, bool) {
	m := partitionRowRe.FindStringSubmatch(line)
	if m == nil {
		return PartitionRecord{}, false
	}

	status, ok := statusMarkers[m[1][0]]
	if !ok {
		return PartitionRecord{}, false
	}

	fields := strings.Fields(m[3])
	nums := make([]uint64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return PartitionRecord{}, false
		}
		nums = append(nums, n)
	}

	rec := PartitionRecord{
		TypeLabel: m[2],
		Status:    status,
	}

	switch {
	case len(nums) >= 7:
		// CHS columns: keep the sector members of the start and end triplets.
		rec.StartSector = nums[2]
		rec.EndSector = nums[5]
		rec.SizeBytes = int64(nums[6]) * sectorSize
	case len(nums) == 3:
		rec.StartSector = nums[0]
		rec.EndSector = nums[1]
		rec.SizeBytes = int64(nums[2]) * sectorSize
	default:
		return PartitionRecord{}, false
	}

	return rec, true
}
