// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pci_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/pcidiag/pkg/pci"
)

func TestSeverity_MarshalUsesVariantName(t *testing.T) {
	data, err := json.Marshal(pci.SeverityHigh)
	require.NoError(t, err)
	assert.Equal(t, `"High"`, string(data))
}

func TestRiskLevel_SerializationIsIdempotent(t *testing.T) {
	for _, level := range []pci.RiskLevel{pci.RiskClean, pci.RiskLow, pci.RiskMedium, pci.RiskHigh, pci.RiskCritical} {
		data, err := json.Marshal(level)
		require.NoError(t, err)

		var decoded pci.RiskLevel
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, level, decoded)
	}
}

func TestPciDevice_PciID(t *testing.T) {
	full := pci.PciDevice{VendorID: "10de", DeviceID: "13b0"}
	assert.Equal(t, "10de:13b0", full.PciID())

	partial := pci.PciDevice{VendorID: "10de"}
	assert.Equal(t, "", partial.PciID())
}

func TestSystemReport_SerializationRoundTrip(t *testing.T) {
	report := pci.SystemReport{
		Timestamp:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		KernelVersion: "6.8.0",
		Devices: []pci.PciDevice{{
			Slot:          "0000:02:00.0",
			VendorID:      "10de",
			DeviceID:      "13b0",
			KernelModules: []string{},
			MemoryRegions: []pci.MemoryRegion{},
			Issues: []pci.DeviceIssue{{
				Severity: pci.SeverityHigh,
				Kind:     pci.IssueZombieDevice,
			}},
		}},
		AcpiErrors: []pci.AcpiError{},
		RiskLevel:  pci.RiskHigh,
	}

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded pci.SystemReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.RiskLevel, decoded.RiskLevel)
	assert.Equal(t, report.Devices[0].Issues[0].Severity, decoded.Devices[0].Issues[0].Severity)
	assert.True(t, report.Timestamp.Equal(decoded.Timestamp))
}
