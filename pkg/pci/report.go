// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pci

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
)

// ReportSink persists a completed SystemReport. This is the capability
// boundary noted in the design notes; FileReportSink is the disk-backed
// implementation.
type ReportSink interface {
	Persist(ctx context.Context, report SystemReport) error
}

// FileReportSink writes reports as JSON files into a working directory.
type FileReportSink struct {
	WorkDir string
}

func (s FileReportSink) Persist(ctx context.Context, report SystemReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	name := fmt.Sprintf("report-%d.json", report.Timestamp.Unix())
	return os.WriteFile(filepath.Join(s.WorkDir, name), data, 0o644)
}

// descriptionEnricher enriches a device's Description field. Implemented by
// *Describer in describe.go; abstracted here so Scan can be tested
// without shelling out to lspci.
type descriptionEnricher interface {
	Describe(ctx context.Context, slot string) string
}

// Scan runs the full Sysfs Reader + Issue Classifier pipeline and
// produces a SystemReport. now is injected so callers (and tests) control
// the report timestamp deterministically. acpiErrors is supplied by the
// caller (typically from pkg/diag's boot-log-derived ACPI scan); a nil or
// empty slice simply means none were attributed.
func Scan(ctx context.Context, logger logr.Logger, reader *Reader, describer descriptionEnricher, now func() time.Time, acpiErrors []AcpiError) (SystemReport, error) {
	devices, err := reader.Enumerate(ctx)
	if err != nil {
		return SystemReport{}, err
	}

	interruptsText, err := reader.ReadInterrupts()
	if err != nil {
		logger.V(1).Info("failed to read /proc/interrupts", "err", err)
		interruptsText = ""
	}

	for i := range devices {
		devices[i] = ClassifyDevice(devices[i], interruptsText)
		if describer != nil {
			devices[i].Description = describer.Describe(ctx, devices[i].Slot)
		}
	}

	iommu := reader.ReadIommuStatus()
	if acpiErrors == nil {
		acpiErrors = []AcpiError{}
	}

	report := SystemReport{
		Timestamp:     now(),
		KernelVersion: reader.ReadKernelVersion(),
		Devices:       devices,
		Iommu:         iommu,
		AcpiErrors:    acpiErrors,
		RiskLevel:     SystemRisk(devices, len(acpiErrors) > 0),
	}
	return report, nil
}
