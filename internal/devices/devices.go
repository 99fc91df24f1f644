// Package devices enumerates block devices a recovery session can target.
package devices

import (
	"context"
	"errors"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrNotFound is returned when no known device matches a requested id.
var ErrNotFound = errors.New("device not found")

// DeviceInfo describes one candidate device.
type DeviceInfo struct {
	// ID is the path-like identifier handed to the engine (e.g. "/dev/disk2").
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	CapacityBytes   uint64 `json:"capacity_bytes"`
	FilesystemLabel string `json:"filesystem_label"`
	IsExternal      bool   `json:"is_external"`
	// MountPoint is empty for unmounted devices.
	MountPoint string `json:"mount_point,omitempty"`
}

// List enumerates mounted block devices, skipping pseudo filesystems.
func List(ctx context.Context) ([]DeviceInfo, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	infos := make([]DeviceInfo, 0, len(parts))
	for _, p := range parts {
		if !strings.HasPrefix(p.Device, "/dev/") {
			continue
		}

		info := DeviceInfo{
			ID:              p.Device,
			DisplayName:     displayName(p.Device, p.Mountpoint),
			FilesystemLabel: p.Fstype,
			IsExternal:      isExternalMount(p.Mountpoint),
			MountPoint:      p.Mountpoint,
		}
		if usage, err := disk.UsageWithContext(ctx, p.Mountpoint); err == nil {
			info.CapacityBytes = usage.Total
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Find returns the device with the given id, or ErrNotFound.
func Find(ctx context.Context, id string) (DeviceInfo, error) {
	infos, err := List(ctx)
	if err != nil {
		return DeviceInfo{}, err
	}
	for _, info := range infos {
		if info.ID == id {
			return info, nil
		}
	}
	return DeviceInfo{}, ErrNotFound
}

// isExternalMount reports whether a mount point sits in one of the locations
// removable media get mounted under.
func isExternalMount(mountpoint string) bool {
	if mountpoint == "" || mountpoint == "/" {
		return false
	}
	return strings.HasPrefix(mountpoint, "/Volumes/") ||
		strings.Contains(mountpoint, "/run/media/") ||
		strings.HasPrefix(mountpoint, "/media/") ||
		strings.HasPrefix(mountpoint, "/mnt/")
}

func displayName(device, mountpoint string) string {
	if mountpoint != "" && mountpoint != "/" {
		if base := mountpoint[strings.LastIndexByte(mountpoint, '/')+1:]; base != "" {
			return base
		}
	}
	return device[strings.LastIndexByte(device, '/')+1:]
}
