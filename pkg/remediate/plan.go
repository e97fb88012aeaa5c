// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remediate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pdxerrors "github.com/antimetal/pcidiag/pkg/errors"
	"github.com/antimetal/pcidiag/pkg/pci"
)

// PciIDReader resolves a device slot's vendor:device identifier pair. It
// is satisfied by SysfsPciIDReader and by fakes in tests.
type PciIDReader interface {
	PciID(slot string) (vendor, device string, err error)
}

// SysfsPciIDReader reads vendor/device straight from sysfs, mirroring
// read_device_pci_id in the original planner.
type SysfsPciIDReader struct {
	SysPath string
}

func (s SysfsPciIDReader) PciID(slot string) (string, string, error) {
	base := filepath.Join(s.SysPath, "bus", "pci", "devices", slot)
	vendor := readTrimmed(filepath.Join(base, "vendor"))
	device := readTrimmed(filepath.Join(base, "device"))
	if vendor == "" || device == "" {
		return "", "", fmt.Errorf("cannot read PCI ID for device %s. Check the slot address.: %w",
			slot, pdxerrors.ErrInputValidation)
	}
	return vendor, device, nil
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(data)), "0x"))
}

// clock is injected so plan ids are deterministic in tests.
type clock func() int64

// CreatePlan generates a single-device remediation plan. slot is the PCI
// address; strategyName follows the ParseStrategy synonym set.
func CreatePlan(reader PciIDReader, now clock, slot, strategyName string) (RemediationPlan, error) {
	strategy, err := ParseStrategy(strategyName)
	if err != nil {
		return RemediationPlan{}, err
	}

	vendor, device, err := reader.PciID(slot)
	if err != nil {
		return RemediationPlan{}, err
	}

	planID := fmt.Sprintf("plan-%s-%d", strings.ReplaceAll(slot, ":", "-"), now())

	switch strategy {
	case StrategyPciStub:
		return RemediationPlan{
			ID:       planID,
			Device:   slot,
			Strategy: strategy,
			Steps: []RemediationStep{{
				Description: fmt.Sprintf("Claim device %s with pci-stub kernel null driver", slot),
				Command:     fmt.Sprintf("rpm-ostree kargs --append=pci-stub.ids=%s:%s", vendor, device),
				NeedsSudo:   true,
				NeedsReboot: true,
			}},
			UndoSteps: []RemediationStep{{
				Description: fmt.Sprintf("Remove pci-stub claim for device %s", slot),
				Command:     fmt.Sprintf("rpm-ostree kargs --delete=pci-stub.ids=%s:%s", vendor, device),
				NeedsSudo:   true,
				NeedsReboot: true,
			}},
			RequiresReboot: true,
			Risk:           strategy.Risk(),
		}, nil

	case StrategyVfioPci:
		return RemediationPlan{
			ID:       planID,
			Device:   slot,
			Strategy: strategy,
			Steps: []RemediationStep{{
				Description: fmt.Sprintf("Claim device %s with vfio-pci (IOMMU-backed isolation)", slot),
				Command:     fmt.Sprintf("rpm-ostree kargs --append=vfio-pci.ids=%s:%s --append=rd.driver.pre=vfio-pci", vendor, device),
				NeedsSudo:   true,
				NeedsReboot: true,
			}},
			UndoSteps: []RemediationStep{{
				Description: fmt.Sprintf("Remove vfio-pci claim for device %s", slot),
				Command:     fmt.Sprintf("rpm-ostree kargs --delete=vfio-pci.ids=%s:%s --delete=rd.driver.pre=vfio-pci", vendor, device),
				NeedsSudo:   true,
				NeedsReboot: true,
			}},
			RequiresReboot: true,
			Risk:           strategy.Risk(),
		}, nil

	case StrategyDualNullDriver:
		return RemediationPlan{
			ID:       planID,
			Device:   slot,
			Strategy: strategy,
			Steps: []RemediationStep{{
				Description: fmt.Sprintf("Claim device %s with pci-stub and vfio-pci null drivers", slot),
				Command: fmt.Sprintf(
					"rpm-ostree kargs --append=pci-stub.ids=%s:%s --append=vfio-pci.ids=%s:%s --append=rd.driver.pre=vfio-pci",
					vendor, device, vendor, device),
				NeedsSudo:   true,
				NeedsReboot: true,
			}},
			UndoSteps: []RemediationStep{{
				Description: fmt.Sprintf("Remove pci-stub and vfio-pci claims for device %s", slot),
				Command: fmt.Sprintf(
					"rpm-ostree kargs --delete=pci-stub.ids=%s:%s --delete=vfio-pci.ids=%s:%s --delete=rd.driver.pre=vfio-pci",
					vendor, device, vendor, device),
				NeedsSudo:   true,
				NeedsReboot: true,
			}},
			RequiresReboot: true,
			Risk:           strategy.Risk(),
		}, nil

	case StrategyAcpiPowerOff:
		return RemediationPlan{
			ID:       planID,
			Device:   slot,
			Strategy: strategy,
			Steps: []RemediationStep{
				{
					Description: fmt.Sprintf("Set device %s power control to auto", slot),
					Command:     fmt.Sprintf("echo auto > /sys/bus/pci/devices/%s/power/control", slot),
					NeedsSudo:   true,
				},
				{
					Description: fmt.Sprintf("Remove device %s from PCI bus", slot),
					Command:     fmt.Sprintf("echo 1 > /sys/bus/pci/devices/%s/remove", slot),
					NeedsSudo:   true,
				},
			},
			UndoSteps: []RemediationStep{{
				Description: "Rescan PCI bus to re-discover removed device",
				Command:     "echo 1 > /sys/bus/pci/rescan",
				NeedsSudo:   true,
			}},
			RequiresReboot: false,
			Risk:           strategy.Risk(),
		}, nil

	case StrategySysfsDisable:
		return RemediationPlan{
			ID:       planID,
			Device:   slot,
			Strategy: strategy,
			Steps: []RemediationStep{{
				Description: fmt.Sprintf("Disable device %s via sysfs", slot),
				Command:     fmt.Sprintf("echo 0 > /sys/bus/pci/devices/%s/enable", slot),
				NeedsSudo:   true,
			}},
			UndoSteps: []RemediationStep{{
				Description: fmt.Sprintf("Re-enable device %s via sysfs", slot),
				Command:     fmt.Sprintf("echo 1 > /sys/bus/pci/devices/%s/enable", slot),
				NeedsSudo:   true,
			}},
			RequiresReboot: false,
			Risk:           strategy.Risk(),
		}, nil

	case StrategyDriverUnbind:
		driverName := readDriverName(reader, slot)
		return RemediationPlan{
			ID:       planID,
			Device:   slot,
			Strategy: strategy,
			Steps: []RemediationStep{{
				Description: fmt.Sprintf("Unbind driver %s from device %s", driverName, slot),
				Command:     fmt.Sprintf("echo %s > /sys/bus/pci/devices/%s/driver/unbind", slot, slot),
				NeedsSudo:   true,
			}},
			UndoSteps: []RemediationStep{{
				Description: fmt.Sprintf("Rebind device %s to driver %s", slot, driverName),
				Command:     fmt.Sprintf("echo %s > /sys/bus/pci/drivers/%s/bind", slot, driverName),
				NeedsSudo:   true,
			}},
			RequiresReboot: false,
			Risk:           strategy.Risk(),
		}, nil
	}

	return RemediationPlan{}, fmt.Errorf("unhandled strategy: %s", strategy)
}

// driverNameReader is implemented by PciIDReaders that can resolve the
// bound driver name for a slot (SysfsPciIDReader); kept separate from
// PciIDReader since not every CreatePlan caller needs it.
type driverNameReader interface {
	DriverName(slot string) string
}

func readDriverName(reader PciIDReader, slot string) string {
	if dr, ok := reader.(driverNameReader); ok {
		if name := dr.DriverName(slot); name != "" {
			return name
		}
	}
	return "unknown"
}

// DriverName implements driverNameReader for SysfsPciIDReader.
func (s SysfsPciIDReader) DriverName(slot string) string {
	link, err := os.Readlink(filepath.Join(s.SysPath, "bus", "pci", "devices", slot, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(link)
}

// CreateMultiPlan generates a remediation plan spanning several devices.
// For the three kernel-argument strategies, all devices are coalesced
// into a single combined plan; for the per-device strategies, one
// sub-plan per device is produced.
func CreateMultiPlan(reader PciIDReader, now clock, slots []string, strategyName string) (MultiDevicePlan, error) {
	strategy, err := ParseStrategy(strategyName)
	if err != nil {
		return MultiDevicePlan{}, err
	}

	planID := fmt.Sprintf("multi-plan-%d", now())

	var plans []RemediationPlan
	switch strategy {
	case StrategyPciStub, StrategyVfioPci, StrategyDualNullDriver:
		type deviceID struct{ slot, vendor, device string }
		ids := make([]deviceID, 0, len(slots))
		for _, slot := range slots {
			vendor, device, err := reader.PciID(slot)
			if err != nil {
				return MultiDevicePlan{}, err
			}
			ids = append(ids, deviceID{slot, vendor, device})
		}
		plans = []RemediationPlan{createCombinedKargsPlan(planID, ids, strategy)}

	default:
		for _, slot := range slots {
			p, err := CreatePlan(reader, now, slot, StrategyName(strategy))
			if err != nil {
				return MultiDevicePlan{}, err
			}
			plans = append(plans, p)
		}
	}

	return MultiDevicePlan{
		ID:             planID,
		Devices:        slots,
		Plans:          plans,
		RequiresReboot: strategy.RequiresReboot(),
		Risk:           strategy.Risk(),
	}, nil
}

type combinedDeviceID = struct{ slot, vendor, device string }

func createCombinedKargsPlan(planID string, ids []combinedDeviceID, strategy Strategy) RemediationPlan {
	slots := make([]string, len(ids))
	pciIDs := make([]string, len(ids))
	for i, id := range ids {
		slots[i] = id.slot
		pciIDs[i] = id.vendor + ":" + id.device
	}
	allSlots := joinSlots(slots)
	combined := strings.Join(pciIDs, ",")

	var applyArgs, undoArgs []string
	switch strategy {
	case StrategyPciStub:
		applyArgs = []string{"--append=pci-stub.ids=" + combined}
		undoArgs = []string{"--delete=pci-stub.ids=" + combined}
	case StrategyVfioPci:
		applyArgs = []string{"--append=vfio-pci.ids=" + combined, "--append=rd.driver.pre=vfio-pci"}
		undoArgs = []string{"--delete=vfio-pci.ids=" + combined, "--delete=rd.driver.pre=vfio-pci"}
	case StrategyDualNullDriver:
		applyArgs = []string{
			"--append=pci-stub.ids=" + combined,
			"--append=vfio-pci.ids=" + combined,
			"--append=rd.driver.pre=vfio-pci",
		}
		undoArgs = []string{
			"--delete=pci-stub.ids=" + combined,
			"--delete=vfio-pci.ids=" + combined,
			"--delete=rd.driver.pre=vfio-pci",
		}
	}

	return RemediationPlan{
		ID:       planID + "-combined",
		Device:   allSlots,
		Strategy: strategy,
		Steps: []RemediationStep{{
			Description: fmt.Sprintf("Claim devices [%s] via kernel args", allSlots),
			Command:     "rpm-ostree kargs " + strings.Join(applyArgs, " "),
			NeedsSudo:   true,
			NeedsReboot: true,
		}},
		UndoSteps: []RemediationStep{{
			Description: fmt.Sprintf("Remove kernel arg claims for devices [%s]", allSlots),
			Command:     "rpm-ostree kargs " + strings.Join(undoArgs, " "),
			NeedsSudo:   true,
			NeedsReboot: true,
		}},
		RequiresReboot: true,
		Risk:           pci.RiskLow,
	}
}
