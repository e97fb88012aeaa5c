// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pci

import (
	"context"
	"os/exec"
	"strings"

	"github.com/cenkalti/backoff/v5"
)

// Describer enriches a PciDevice's Description field by invoking the
// system's lspci binary. This is a supplemented, best-effort feature: the
// original description field was dropped from the distilled component
// design but still exists in the data model, and lspci is the only
// practical way to populate it. Any failure (binary missing, non-zero
// exit, unparsable output) yields an empty string, never an error, per
// the External tool error kind.
type Describer struct {
	runner func(ctx context.Context, slot string) (string, error)
}

// NewDescriber returns a Describer that shells out to lspci, retrying
// transient failures a bounded number of times via backoff.
func NewDescriber() *Describer {
	return &Describer{runner: runLspci}
}

// Describe returns a human-readable one-line description of slot, or the
// empty string if lspci is unavailable or its output cannot be parsed.
func (d *Describer) Describe(ctx context.Context, slot string) string {
	out, err := backoff.Retry(ctx, func() (string, error) {
		return d.runner(ctx, slot)
	}, backoff.WithMaxTries(3))
	if err != nil {
		return ""
	}
	return parseLspciOutput(out)
}

func runLspci(ctx context.Context, slot string) (string, error) {
	cmd := exec.CommandContext(ctx, "lspci", "-s", slot, "-mm")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// parseLspciOutput turns one line of `lspci -mm` machine-readable output
// (space-separated quoted fields: slot class vendor device ...) into a
// single "<vendor> <device> (<class>)" description string.
func parseLspciOutput(out string) string {
	line := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	if line == "" {
		return ""
	}

	fields := splitQuotedFields(line)
	// fields[0] is the slot; class, vendor, device follow when present.
	if len(fields) < 4 {
		return ""
	}
	class, vendor, device := fields[1], fields[2], fields[3]
	return vendor + " " + device + " (" + class + ")"
}

// splitQuotedFields splits an lspci -mm line into its double-quoted
// fields, e.g. `01:00.0 "VGA" "NVIDIA" "GP104"` -> ["01:00.0","VGA","NVIDIA","GP104"].
func splitQuotedFields(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			if !inQuotes {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		case r == ' ' && !inQuotes:
			if cur.Len() > 0 {
				fields = append(fields, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, strings.TrimSpace(cur.String()))
	}
	return fields
}
