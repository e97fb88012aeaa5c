// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pci

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	pdxerrors "github.com/antimetal/pcidiag/pkg/errors"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Reader produces PciDevice records from a readable sysfs tree. It treats
// sysfs as an immutable snapshot: missing files yield zero values, missing
// symlinks yield absent values, and no individual read failure ever
// escapes from Enumerate or ReadDevice.
//
// This mirrors the graceful-degradation posture of
// collectors.DiskInfoCollector: every os.ReadFile/os.Readlink call is
// wrapped in "if err == nil" rather than propagated.
type Reader struct {
	logger  logr.Logger
	devRoot string
	config  Config
}

// NewReader returns a Reader rooted at config.SysPath/bus/pci/devices.
func NewReader(logger logr.Logger, config Config) (*Reader, error) {
	config.ApplyDefaults()
	if !filepath.IsAbs(config.SysPath) {
		return nil, fmt.Errorf("SysPath must be an absolute path, got: %q", config.SysPath)
	}
	return &Reader{
		logger:  logger.WithName("pci-reader"),
		devRoot: filepath.Join(config.SysPath, "bus", "pci", "devices"),
		config:  config,
	}, nil
}

// Enumerate lists every PCI device under the sysfs device tree, sorted by
// slot ascending. It fails only when the PCI root directory itself is
// absent.
func (r *Reader) Enumerate(ctx context.Context) ([]PciDevice, error) {
	entries, err := os.ReadDir(r.devRoot)
	if err != nil {
		return nil, fmt.Errorf("cannot access PCI bus — is this Linux?: %w: %w", pdxerrors.ErrEnvironment, err)
	}

	slots := make([]string, 0, len(entries))
	for _, e := range entries {
		slots = append(slots, e.Name())
	}
	sort.Strings(slots)

	devices := make([]PciDevice, len(slots))
	if r.config.ParallelScan {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, slot := range slots {
			i, slot := i, slot
			g.Go(func() error {
				devices[i] = r.ReadDevice(gctx, slot)
				return nil
			})
		}
		// Reader.ReadDevice never returns an error and every goroutine
		// returns nil, so g.Wait() only waits for the reads to finish;
		// reads are already individually defaulted.
		_ = g.Wait()
	} else {
		for i, slot := range slots {
			devices[i] = r.ReadDevice(ctx, slot)
		}
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Slot < devices[j].Slot })
	return devices, nil
}

// ReadDevice reads a single device's raw record. The returned device's
// Issues field is always empty; classification happens separately.
func (r *Reader) ReadDevice(ctx context.Context, slot string) PciDevice {
	root := filepath.Join(r.devRoot, slot)

	d := PciDevice{
		Slot:          slot,
		KernelModules: []string{},
		MemoryRegions: []MemoryRegion{},
		Issues:        []DeviceIssue{},
	}

	d.VendorID = strings.TrimPrefix(r.readString(filepath.Join(root, "vendor")), "0x")
	d.DeviceID = strings.TrimPrefix(r.readString(filepath.Join(root, "device")), "0x")
	d.Class = r.readString(filepath.Join(root, "class"))
	d.Enabled = r.readString(filepath.Join(root, "enable")) == "1"
	d.PowerState = parsePowerState(r.readString(filepath.Join(root, "power_state")))

	if drv, err := os.Readlink(filepath.Join(root, "driver")); err == nil {
		d.Driver = filepath.Base(drv)
	}

	if grp, err := os.Readlink(filepath.Join(root, "iommu_group")); err == nil {
		base := filepath.Base(grp)
		if n, err := strconv.ParseUint(base, 10, 32); err == nil {
			g := uint32(n)
			d.IommuGroup = &g
		}
	}

	regions, err := r.readBARs(filepath.Join(root, "resource"))
	if err != nil {
		r.logger.V(1).Info("failed to decode resource file", "slot", slot, "err", err)
	}
	d.MemoryRegions = regions

	return d
}

// readString reads a sysfs attribute, trimming whitespace. A missing file
// or any read error yields the empty string rather than an error.
func (r *Reader) readString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readBARs decodes the resource file into an ordered list of MemoryRegion,
// applying the BAR index/skip rule from the component design: a 64-bit
// BAR's upper half occupies the next line but is not itself emitted, and
// the running index still advances across it.
func (r *Reader) readBARs(path string) ([]MemoryRegion, error) {
	f, err := os.Open(path)
	if err != nil {
		return []MemoryRegion{}, nil
	}
	defer f.Close()

	var regions []MemoryRegion
	index := uint8(0)
	skipNext := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if skipNext {
			skipNext = false
			index++
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			index++
			continue
		}

		start, err1 := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
		end, err2 := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		flags, err3 := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			index++
			continue
		}

		if start == 0 {
			index++
			continue
		}

		size := end - start + 1
		prefetchable := flags&(1<<3) != 0
		is64Bit := flags&(1<<2) != 0
		width := uint8(32)
		if is64Bit {
			width = 64
		}

		regions = append(regions, MemoryRegion{
			Index:        index,
			Address:      fmt.Sprintf("0x%x", start),
			Size:         size,
			Prefetchable: prefetchable,
			Width:        width,
		})

		index++
		if is64Bit {
			skipNext = true
		}
	}
	if regions == nil {
		regions = []MemoryRegion{}
	}
	return regions, scanner.Err()
}

// ReadIommuStatus reports system-wide IOMMU configuration.
func (r *Reader) ReadIommuStatus() IommuStatus {
	groupsDir := filepath.Join(r.config.SysPath, "kernel", "iommu_groups")
	entries, err := os.ReadDir(groupsDir)
	enabled := err == nil

	status := IommuStatus{Enabled: enabled}
	if !enabled {
		return status
	}
	status.GroupCount = uint32(len(entries))

	switch {
	case fileExists(filepath.Join(r.config.SysPath, "firmware", "acpi", "tables", "DMAR")):
		status.IommuType = "Intel VT-d"
	case fileExists(filepath.Join(r.config.SysPath, "firmware", "acpi", "tables", "IVRS")):
		status.IommuType = "AMD-Vi"
	default:
		status.IommuType = "Unknown"
	}

	// Interrupt remapping status is not independently observable from
	// sysfs in the reference implementation; it is reported as equal to
	// the IOMMU enabled flag (stated limitation, see spec §4.1).
	status.InterruptRemapping = enabled
	return status
}

// ReadKernelVersion returns the third whitespace-separated token of
// /proc/version, or "unknown" if it cannot be read or parsed.
func (r *Reader) ReadKernelVersion() string {
	data, err := os.ReadFile(filepath.Join(r.config.ProcPath, "version"))
	if err != nil {
		return "unknown"
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return "unknown"
	}
	return fields[2]
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
