// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package diag reads per-boot kernel logs and correlates hardware events
// with crashes.
package diag

// BootEntry describes a single recorded boot from the system journal.
type BootEntry struct {
	BootID         string
	TimestampRange string
	DurationSecs   uint64
}

// CrashEvent is a single boot's worth of crash/anomaly evidence.
type CrashEvent struct {
	BootID          string   `json:"boot_id"`
	Timestamp       string   `json:"timestamp"`
	SessionDuration uint64   `json:"session_duration"`
	Indicators      []string `json:"indicators"`
	HardwareEvents  []string `json:"hardware_events"`
}

// HardwareCorrelation scores how strongly a device identifier correlates
// with the crashes found across analyzed boots.
type HardwareCorrelation struct {
	Device     string  `json:"device"`
	Event      string  `json:"event"`
	CrashCount int     `json:"crash_count"`
	Strength   float64 `json:"strength"`
}

// CrashDiagnosis is the result of correlating crashes across N boots.
type CrashDiagnosis struct {
	BootsAnalyzed  int                   `json:"boots_analyzed"`
	Crashes        []CrashEvent          `json:"crashes"`
	Correlations   []HardwareCorrelation `json:"correlations"`
	Confidence     float64               `json:"confidence"`
	PrimarySuspect string                `json:"primary_suspect,omitempty"`
	Recommendation string                `json:"recommendation"`
}
