// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/antimetal/pcidiag/pkg/pci"
)

// Hardware error pattern families scanned in a boot's kernel log. A line
// is matched against the families in turn (PCI, ACPI, taint, crash
// indicator), stopping at the first family that matches: a single line
// contributes to at most one of them.
var (
	pciErrorPatterns = []string{"pci", "aer", "pcie bus error", "bar", "dpc:", "acs"}

	acpiErrorPatterns = []string{
		"ACPI Error", "ACPI BIOS Error", "ACPI Exception", "AE_AML", "AE_NOT_FOUND", "_SB._OSC",
	}

	taintPatterns = []string{
		"module verification failed", "tainting kernel", "Tainted:", "loading out-of-tree module",
	}

	crashIndicators = []string{
		"Kernel panic", "BUG:", "Oops:", "RIP:", "Call Trace:", "watchdog: BUG:",
		"Hardware Error", "Machine check events logged", "MCE:",
	}
)

// Diagnose analyzes the last maxBoots boots for hardware-correlated
// crashes. deviceFilter, when non-empty, restricts PCI-event attribution
// to devices whose slot contains it.
func Diagnose(ctx context.Context, source BootLogSource, maxBoots int, deviceFilter string) (CrashDiagnosis, error) {
	boots, err := source.ListBoots(ctx, maxBoots)
	if err != nil {
		return CrashDiagnosis{}, err
	}

	if len(boots) == 0 {
		return CrashDiagnosis{
			BootsAnalyzed:  0,
			Crashes:        []CrashEvent{},
			Correlations:   []HardwareCorrelation{},
			Recommendation: "No boot records found. Check journalctl access.",
		}, nil
	}

	var crashes []CrashEvent
	deviceEvents := map[string][]string{}
	deviceCrashCount := map[string]int{}

	for i, boot := range boots {
		log, err := source.ReadBootLog(ctx, boot.BootID)
		if err != nil {
			return CrashDiagnosis{}, err
		}

		hasCrashIndicators := containsAny(log, crashIndicators)
		isShortSession := boot.DurationSecs < 120
		isUnclean := isShortSession || hasCrashIndicators

		if !isUnclean && i < len(boots)-1 {
			continue
		}

		var indicators []string
		var hwEvents []string
		countedThisBoot := map[string]bool{}

		for _, line := range strings.Split(log, "\n") {
			lineLower := strings.ToLower(line)

			if _, ok := firstMatch(lineLower, pciErrorPatterns, true); ok {
				if dev := extractPciDevice(line); dev != "" {
					if deviceFilter == "" || strings.Contains(dev, deviceFilter) {
						deviceEvents[dev] = append(deviceEvents[dev], "PCI: "+truncate(line, 120))
						if isUnclean && !countedThisBoot[dev] {
							countedThisBoot[dev] = true
							deviceCrashCount[dev]++
						}
					}
				}
				hwEvents = append(hwEvents, "PCI event: "+truncate(line, 100))
			} else if _, ok := firstMatch(line, acpiErrorPatterns, false); ok {
				if dev := extractAcpiDevice(line); dev != "" {
					deviceEvents[dev] = append(deviceEvents[dev], "ACPI: "+truncate(line, 120))
					if isUnclean && !countedThisBoot[dev] {
						countedThisBoot[dev] = true
						deviceCrashCount[dev]++
					}
				}
				hwEvents = append(hwEvents, "ACPI event: "+truncate(line, 100))
			} else if _, ok := firstMatch(line, taintPatterns, false); ok {
				indicators = append(indicators, "Taint: "+truncate(line, 100))
				if mod := extractModuleName(line); mod != "" {
					hwEvents = append(hwEvents, "Tainted module: "+mod)
				}
			} else if _, ok := firstMatch(line, crashIndicators, false); ok {
				indicators = append(indicators, truncate(line, 120))
			}
		}

		if isUnclean || len(indicators) > 0 || len(hwEvents) > 0 {
			crashes = append(crashes, CrashEvent{
				BootID:          boot.BootID,
				Timestamp:       boot.TimestampRange,
				SessionDuration: boot.DurationSecs,
				Indicators:      orEmpty(indicators),
				HardwareEvents:  orEmpty(hwEvents),
			})
		}
	}

	totalCrashes := len(crashes)
	if totalCrashes == 0 {
		totalCrashes = 1
	}

	var correlations []HardwareCorrelation
	for device, count := range deviceCrashCount {
		events := deviceEvents[device]
		eventDesc := "Hardware event"
		if len(events) > 0 {
			eventDesc = events[0]
		}
		correlations = append(correlations, HardwareCorrelation{
			Device:     device,
			Event:      eventDesc,
			CrashCount: count,
			Strength:   float64(count) / float64(totalCrashes),
		})
	}

	sort.Slice(correlations, func(i, j int) bool {
		if correlations[i].Strength != correlations[j].Strength {
			return correlations[i].Strength > correlations[j].Strength
		}
		return correlations[i].Device < correlations[j].Device
	})

	var primarySuspect string
	var confidence float64
	if len(correlations) > 0 {
		primarySuspect = correlations[0].Device
		confidence = correlations[0].Strength
	}

	recommendation := recommendationFor(primarySuspect, confidence, len(crashes) == 0)

	return CrashDiagnosis{
		BootsAnalyzed:  len(boots),
		Crashes:        orEmptyCrashes(crashes),
		Correlations:   orEmptyCorrelations(correlations),
		Confidence:     confidence,
		PrimarySuspect: primarySuspect,
		Recommendation: recommendation,
	}, nil
}

func recommendationFor(suspect string, confidence float64, noCrashes bool) string {
	switch {
	case suspect != "" && confidence > 0.7:
		return fmt.Sprintf("High confidence: device %s is likely causing crashes. Run plan.", suspect)
	case suspect != "" && confidence > 0.3:
		return "Moderate confidence: investigate with scan."
	case suspect != "":
		return "Low correlation found."
	case noCrashes:
		return "No crashes detected; system appears stable."
	default:
		return "Crashes detected but no hardware correlation found."
	}
}

// ScanAcpiErrors supplements the distilled scanner, which always returns
// an empty ACPI error list, by actually scanning the most recent boot's
// kernel log for the ACPI pattern family and extracting a method path.
func ScanAcpiErrors(log string) []pci.AcpiError {
	var errs []pci.AcpiError
	for _, line := range strings.Split(log, "\n") {
		pattern, ok := firstMatch(line, acpiErrorPatterns, false)
		if !ok {
			continue
		}
		method := extractAcpiDevice(line)
		errs = append(errs, pci.AcpiError{
			Method:      method,
			ErrorCode:   pattern,
			Description: truncate(line, 120),
		})
	}
	if errs == nil {
		errs = []pci.AcpiError{}
	}
	return errs
}

func firstMatch(haystack string, patterns []string, lowerPatterns bool) (string, bool) {
	for _, p := range patterns {
		needle := p
		if lowerPatterns {
			needle = strings.ToLower(p)
		}
		if strings.Contains(haystack, needle) {
			return p, true
		}
	}
	return "", false
}

func containsAny(haystack string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

// extractPciDevice finds the first "HH:HH.D" substring (two hex pairs, a
// colon, a dot, and a single hex digit) in line.
func extractPciDevice(line string) string {
	b := []byte(line)
	n := len(b)
	for i := 0; i+7 <= n; i++ {
		if b[i+2] == ':' && b[i+5] == '.' &&
			isHex(b[i]) && isHex(b[i+1]) && isHex(b[i+3]) && isHex(b[i+4]) && isHex(b[i+6]) {
			return string(b[i : i+7])
		}
	}
	return ""
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// extractAcpiDevice finds the substring "_SB" and truncates at the first
// whitespace, ')', or ']'.
func extractAcpiDevice(line string) string {
	pos := strings.Index(line, "_SB")
	if pos < 0 {
		return ""
	}
	rest := line[pos:]
	end := len(rest)
	for i, r := range rest {
		if r == ' ' || r == '\t' || r == ')' || r == ']' {
			end = i
			break
		}
	}
	return rest[:end]
}

// extractModuleName finds "module " and returns the following word,
// rejecting "verification" (the word that follows in
// "module verification failed" lines, which is not a module name).
func extractModuleName(line string) string {
	pos := strings.Index(line, "module ")
	if pos < 0 {
		return ""
	}
	rest := line[pos+len("module "):]
	end := strings.IndexAny(rest, " \t")
	if end < 0 {
		end = len(rest)
	}
	module := rest[:end]
	if module == "" || module == "verification" {
		return ""
	}
	return module
}

// truncate returns the first max bytes of s, matching the reference
// implementation's byte-slice truncation (not UTF-8-boundary-safe).
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyCrashes(c []CrashEvent) []CrashEvent {
	if c == nil {
		return []CrashEvent{}
	}
	return c
}

func orEmptyCorrelations(c []HardwareCorrelation) []HardwareCorrelation {
	if c == nil {
		return []HardwareCorrelation{}
	}
	return c
}
