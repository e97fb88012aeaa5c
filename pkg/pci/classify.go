// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pci

// Remediation hint literals for the four implemented rules (Z1/P1/U1/I1).
// Other detectors may add issues of additional kinds in the future but
// never remove these.
const (
	hintZombieDevice       = "No driver is managing this powered device. Bind a driver or use a remediation plan to claim it with a null driver."
	hintPartialBinding     = "Only the audio function of this multi-function device is bound. Consider a combined remediation plan for all functions."
	hintUnmanagedMemory    = "This device has memory regions mapped with no driver responsible for them. Bind a driver or disable the device."
	hintSpuriousInterrupts = "This device is generating interrupts with no driver to handle them. Disable the device or bind a driver."
)

// ClassifyDevice applies the issue taxonomy rules, in fixed order
// (Z1, P1, U1, I1), to a raw device record populated by Reader.ReadDevice,
// and returns the device with its Issues field filled in. interruptsText
// is the whole contents of /proc/interrupts.
func ClassifyDevice(d PciDevice, interruptsText string) PciDevice {
	var issues []DeviceIssue

	// Z1: zombie device.
	if d.Driver == "" && (d.PowerState == PowerStateD0 || d.Enabled) {
		issues = append(issues, DeviceIssue{
			Severity:    SeverityHigh,
			Kind:        IssueZombieDevice,
			Description: "Device " + d.Slot + " is powered but has no driver bound",
			Remediation: hintZombieDevice,
		})
	}

	// P1: NVIDIA audio codec partial binding.
	if d.Driver == "snd_hda_intel" && d.VendorID == "10de" {
		issues = append(issues, DeviceIssue{
			Severity:    SeverityWarning,
			Kind:        IssuePartialBinding,
			Description: "Device " + d.Slot + " has only its audio function bound (snd_hda_intel)",
			Remediation: hintPartialBinding,
		})
	}

	// U1: unmanaged memory.
	if d.Driver == "" && len(d.MemoryRegions) > 0 {
		issues = append(issues, DeviceIssue{
			Severity:    SeverityHigh,
			Kind:        IssueUnmanagedMemory,
			Description: "Device " + d.Slot + " has mapped memory regions with no managing driver",
			Remediation: hintUnmanagedMemory,
		})
	}

	// I1: spurious interrupts.
	if issue := ScanDeviceInterrupts(interruptsText, d.Slot, d.Driver); issue != nil {
		issues = append(issues, *issue)
	}

	if issues == nil {
		issues = []DeviceIssue{}
	}
	d.Issues = issues
	return d
}

// SystemRisk computes the whole-system risk tier from a scanned device
// list and the presence of ACPI errors, per the widening rules in the
// component design.
func SystemRisk(devices []PciDevice, hasAcpiErrors bool) RiskLevel {
	hasCritical := false
	highCount := 0
	anyIssue := false

	for _, d := range devices {
		for _, issue := range d.Issues {
			anyIssue = true
			switch issue.Severity {
			case SeverityCritical:
				hasCritical = true
			case SeverityHigh:
				highCount++
			}
		}
	}

	switch {
	case hasCritical:
		return RiskCritical
	case highCount > 0 || hasAcpiErrors:
		return RiskHigh
	case anyIssue:
		return RiskMedium
	default:
		return RiskClean
	}
}
