// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pci

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadInterrupts returns the whole contents of /proc/interrupts.
func (r *Reader) ReadInterrupts() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.config.ProcPath, "interrupts"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ScanDeviceInterrupts scans /proc/interrupts text for a line mentioning
// slot and, if the summed per-CPU counts exceed the spurious-interrupt
// threshold while no driver is bound, returns a SpuriousInterrupts issue.
//
// /proc/interrupts lines may mention multiple devices sharing one IRQ; the
// total count is attributed to every mentioned slot, which can
// double-count a single interrupt storm across several devices. This is
// preserved as documented, known behavior rather than treated as a defect.
func ScanDeviceInterrupts(text, slot, driver string) *DeviceIssue {
	if driver != "" {
		return nil
	}

	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, slot) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var total uint64
		// Skip the leading IRQ-number column (e.g. "16:") and sum
		// contiguous leading numeric columns, which are the per-CPU
		// interrupt counts.
		for _, f := range fields[1:] {
			n, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				break
			}
			total += n
		}

		if total > 1000 {
			return &DeviceIssue{
				Severity:    SeverityCritical,
				Kind:        IssueSpuriousInterrupts,
				Description: fmt.Sprintf("Device %s has %d interrupts with no driver to handle them", slot, total),
				Remediation: hintSpuriousInterrupts,
			}
		}
	}
	return nil
}
