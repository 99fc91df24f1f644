// Command salvage runs a recovery session from the terminal, without the
// HTTP server in front of it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/pcormier/salvage/internal/app"
	"github.com/pcormier/salvage/internal/config"
	"github.com/pcormier/salvage/internal/devices"
	"github.com/pcormier/salvage/internal/photorec"
	"github.com/pcormier/salvage/internal/results"
	"github.com/pcormier/salvage/internal/testdisk"
)

func main() {
	listDevices := flag.Bool("list-devices", false, "list candidate devices and exit")
	partitionLog := flag.String("parse-partitions", "", "parse a TestDisk log file and exit")
	device := flag.String("device", "", "device to scan (e.g. /dev/disk2)")
	dest := flag.String("dest", "", "directory to recover files into")
	whole := flag.Bool("whole", false, "scan the whole partition instead of unallocated space only")
	types := flag.String("types", "", "comma-separated file extensions to keep (default: all)")
	flag.Parse()

	switch {
	case *listDevices:
		if err := printDevices(); err != nil {
			log.Fatalf("Failed to list devices: %v", err)
		}
	case *partitionLog != "":
		if err := printPartitions(*partitionLog); err != nil {
			log.Fatalf("Failed to parse partitions: %v", err)
		}
	case *device != "" && *dest != "":
		if err := runScan(*device, *dest, *whole, *types); err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printDevices() error {
	infos, err := devices.List(context.Background())
	if err != nil {
		return err
	}
	for _, info := range infos {
		kind := "internal"
		if info.IsExternal {
			kind = "external"
		}
		fmt.Printf("%-20s %10s  %-8s %s\n",
			info.ID, humanize.IBytes(info.CapacityBytes), kind, info.DisplayName)
	}
	return nil
}

func printPartitions(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, rec := range testdisk.ParsePartitions(string(data)) {
		fmt.Printf("%2d %-8s %-24s sectors %d-%d  %s\n",
			rec.Index, rec.Status, rec.TypeLabel,
			rec.StartSector, rec.EndSector, humanize.Bytes(uint64(rec.SizeBytes)))
	}
	return nil
}

func runScan(deviceID, dest string, whole bool, types string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	info, err := devices.Find(context.Background(), deviceID)
	if err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}

	opts := photorec.ScanOptions{
		ScanWholePartition: whole,
		FileTypeFilter:     photorec.FileTypeSet(splitTypes(types)),
	}

	controller := app.NewController(cfg)
	events, err := controller.Start(info, dest, opts)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Cancelling...")
		controller.Cancel()
	}()

	log.Printf("Recovering from %s into %s", info.ID, dest)
	for ev := range events {
		switch e := ev.(type) {
		case photorec.Progress:
			line := fmt.Sprintf("%d files found", e.FilesFound)
			if e.Percent >= 0 {
				line = fmt.Sprintf("%.1f%%  %s", e.Percent, line)
			}
			if e.SpeedLabel != "" {
				line += "  " + e.SpeedLabel
			}
			log.Print(line)
		case photorec.Warning:
			log.Printf("Warning: %s", e.Message)
		case photorec.Completed:
			log.Printf("Recovered %d files into %s", e.TotalFiles, e.OutputLocation)
			printSummary(e.OutputLocation, opts.FileTypeFilter)
		case photorec.Failed:
			return e.Err
		case photorec.Cancelled:
			log.Println("Session cancelled")
		}
	}
	return nil
}

func printSummary(dest string, filter map[string]struct{}) {
	summary, err := results.Enumerate(dest, filter)
	if err != nil {
		log.Printf("Could not enumerate results: %v", err)
		return
	}
	fmt.Printf("Total: %d files, %s\n", summary.TotalFiles, humanize.Bytes(uint64(summary.TotalBytes)))
	for ext, count := range summary.ByType {
		fmt.Printf("  %-8s %d\n", ext, count)
	}
}

func splitTypes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
