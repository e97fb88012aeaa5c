// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pci_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/pcidiag/pkg/pci"
)

func TestClassifyDevice_ZombieGPU(t *testing.T) {
	dev := pci.PciDevice{
		Slot:       "0000:02:00.0",
		VendorID:   "10de",
		DeviceID:   "13b0",
		Enabled:    true,
		PowerState: pci.PowerStateD0,
	}

	classified := pci.ClassifyDevice(dev, "")
	require.Len(t, classified.Issues, 1)
	assert.Equal(t, pci.IssueZombieDevice, classified.Issues[0].Kind)
	assert.Equal(t, pci.SeverityHigh, classified.Issues[0].Severity)
}

func TestClassifyDevice_NvidiaAudioPartialBinding(t *testing.T) {
	dev := pci.PciDevice{
		Slot:     "0000:02:00.1",
		VendorID: "10de",
		Driver:   "snd_hda_intel",
	}

	classified := pci.ClassifyDevice(dev, "")
	require.Len(t, classified.Issues, 1)
	assert.Equal(t, pci.IssuePartialBinding, classified.Issues[0].Kind)
	assert.Equal(t, pci.SeverityWarning, classified.Issues[0].Severity)
}

func TestClassifyDevice_NoIssuesForBoundDevice(t *testing.T) {
	dev := pci.PciDevice{
		Slot:   "0000:00:1f.3",
		Driver: "snd_hda_intel",
	}
	dev.VendorID = "8086"

	classified := pci.ClassifyDevice(dev, "")
	assert.Empty(t, classified.Issues)
}

func TestSystemRisk_Widening(t *testing.T) {
	clean := []pci.PciDevice{{Slot: "a"}}
	assert.Equal(t, pci.RiskClean, pci.SystemRisk(clean, false))

	withWarning := []pci.PciDevice{{
		Slot:   "a",
		Issues: []pci.DeviceIssue{{Severity: pci.SeverityWarning}},
	}}
	assert.Equal(t, pci.RiskMedium, pci.SystemRisk(withWarning, false))

	withHigh := []pci.PciDevice{{
		Slot:   "a",
		Issues: []pci.DeviceIssue{{Severity: pci.SeverityHigh}},
	}}
	assert.Equal(t, pci.RiskHigh, pci.SystemRisk(withHigh, false))

	assert.Equal(t, pci.RiskHigh, pci.SystemRisk(clean, true))

	withCritical := []pci.PciDevice{{
		Slot:   "a",
		Issues: []pci.DeviceIssue{{Severity: pci.SeverityCritical}},
	}}
	assert.Equal(t, pci.RiskCritical, pci.SystemRisk(withCritical, false))
}

func TestSeverityOrdering(t *testing.T) {
	assert.Less(t, int(pci.SeverityInfo), int(pci.SeverityWarning))
	assert.Less(t, int(pci.SeverityWarning), int(pci.SeverityHigh))
	assert.Less(t, int(pci.SeverityHigh), int(pci.SeverityCritical))
}

func TestRiskOrdering(t *testing.T) {
	levels := []pci.RiskLevel{pci.RiskClean, pci.RiskLow, pci.RiskMedium, pci.RiskHigh, pci.RiskCritical}
	for i := 1; i < len(levels); i++ {
		assert.Less(t, int(levels[i-1]), int(levels[i]))
	}
}
