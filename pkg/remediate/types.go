// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package remediate generates, applies and undoes remediation plans for
// hardware issues found by pkg/pci. The strategy enumeration is closed: a
// small two-method interface (RequiresReboot, Risk) is enough to dispatch
// on it, but parsing an unrecognized strategy name is a fatal input
// validation error at the boundary so an unknown value never reaches the
// planner.
package remediate

import (
	"fmt"
	"strings"

	pdxerrors "github.com/antimetal/pcidiag/pkg/errors"
	"github.com/antimetal/pcidiag/pkg/pci"
)

// Strategy is the closed set of remediation strategies.
type Strategy string

const (
	StrategyPciStub        Strategy = "PciStub"
	StrategyVfioPci         Strategy = "VfioPci"
	StrategyDualNullDriver  Strategy = "DualNullDriver"
	StrategyAcpiPowerOff    Strategy = "AcpiPowerOff"
	StrategySysfsDisable    Strategy = "SysfsDisable"
	StrategyDriverUnbind    Strategy = "DriverUnbind"
)

// RequiresReboot reports whether this strategy only takes effect after a
// reboot (the three kernel-argument strategies).
func (s Strategy) RequiresReboot() bool {
	switch s {
	case StrategyPciStub, StrategyVfioPci, StrategyDualNullDriver:
		return true
	default:
		return false
	}
}

// Risk reports the estimated risk of applying this strategy.
func (s Strategy) Risk() pci.RiskLevel {
	if s == StrategyAcpiPowerOff {
		return pci.RiskMedium
	}
	return pci.RiskLow
}

// ParseStrategy accepts the synonym set documented in the component
// design (pci-stub, vfio-pci, dual/both, power-off, disable, unbind), an
// empty string defaulting to StrategyDualNullDriver. Any other value is an
// input validation error that always propagates.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "":
		return StrategyDualNullDriver, nil
	case "pci-stub":
		return StrategyPciStub, nil
	case "vfio-pci":
		return StrategyVfioPci, nil
	case "dual", "both":
		return StrategyDualNullDriver, nil
	case "power-off":
		return StrategyAcpiPowerOff, nil
	case "disable":
		return StrategySysfsDisable, nil
	case "unbind":
		return StrategyDriverUnbind, nil
	default:
		return "", fmt.Errorf("unknown strategy: %s. Use: pci-stub, vfio-pci, dual, power-off, disable, unbind: %w",
			name, pdxerrors.ErrInputValidation)
	}
}

// StrategyName returns the canonical synonym for strategy, the inverse of
// ParseStrategy (picking "dual" for StrategyDualNullDriver, matching the
// reference implementation's own reverse mapping).
func StrategyName(s Strategy) string {
	switch s {
	case StrategyPciStub:
		return "pci-stub"
	case StrategyVfioPci:
		return "vfio-pci"
	case StrategyDualNullDriver:
		return "dual"
	case StrategyAcpiPowerOff:
		return "power-off"
	case StrategySysfsDisable:
		return "disable"
	case StrategyDriverUnbind:
		return "unbind"
	default:
		return ""
	}
}

// RemediationStep is a single apply or undo action.
type RemediationStep struct {
	Description string `json:"description"`
	Command     string `json:"command"`
	NeedsSudo   bool   `json:"needs_sudo"`
	NeedsReboot bool   `json:"needs_reboot"`
}

// RemediationPlan is a single plan targeting one device, or (for
// kernel-argument strategies) a combined plan targeting several.
type RemediationPlan struct {
	ID              string            `json:"id"`
	Device          string            `json:"device"`
	Strategy        Strategy          `json:"strategy"`
	Steps           []RemediationStep `json:"steps"`
	UndoSteps       []RemediationStep `json:"undo_steps"`
	RequiresReboot  bool              `json:"requires_reboot"`
	Risk            pci.RiskLevel     `json:"risk"`
}

// MultiDevicePlan wraps one or more per-device (or combined) plans.
type MultiDevicePlan struct {
	ID             string            `json:"id"`
	Devices        []string          `json:"devices"`
	Plans          []RemediationPlan `json:"plans"`
	RequiresReboot bool              `json:"requires_reboot"`
	Risk           pci.RiskLevel     `json:"risk"`
}

// RemediationReceipt records that a plan was applied.
type RemediationReceipt struct {
	Plan          RemediationPlan `json:"plan"`
	AppliedAt     string          `json:"applied_at"`
	RebootPending bool            `json:"reboot_pending"`
	PreState      string          `json:"pre_state"`
}

func joinSlots(slots []string) string {
	return strings.Join(slots, ", ")
}
