// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pci

import "os"

// Config carries the filesystem roots the engine reads from. It mirrors
// performance.CollectionConfig's HostSysPath/HostProcPath convention: paths
// default to the real system locations but can be redirected (e.g. into a
// test fixture, or a container's bind-mounted host view).
type Config struct {
	SysPath  string
	ProcPath string

	// WorkDir is where scan reports are persisted (FileReportSink).
	// Remediation plans and receipts are kept in a remediate.Store, not
	// under WorkDir.
	WorkDir string

	// MaxBoots bounds how many boots the crash correlator walks back
	// through journalctl history.
	MaxBoots int

	// ParallelScan enables a bounded-concurrency device scan via errgroup.
	// Output ordering is unaffected either way: devices are always sorted
	// by slot after collection.
	ParallelScan bool
}

// DefaultWorkDir and DefaultMaxBoots are the real-system defaults applied
// by ApplyDefaults, and the single source of truth callers (including
// cmd/pcidiag's flag defaults) should defer to rather than hardcoding.
const (
	DefaultWorkDir  = "/var/lib/pcidiag"
	DefaultMaxBoots = 10
)

// ApplyDefaults fills in zero-valued fields with their real-system
// defaults and honors PCIDIAG_SYS / PCIDIAG_PROC overrides, the same
// override convention performance.Manager applies for HOST_SYS/HOST_PROC.
func (c *Config) ApplyDefaults() {
	if c.SysPath == "" {
		c.SysPath = "/sys"
	}
	if c.ProcPath == "" {
		c.ProcPath = "/proc"
	}
	if c.WorkDir == "" {
		c.WorkDir = DefaultWorkDir
	}
	if c.MaxBoots == 0 {
		c.MaxBoots = DefaultMaxBoots
	}
	if v := os.Getenv("PCIDIAG_SYS"); v != "" {
		c.SysPath = v
	}
	if v := os.Getenv("PCIDIAG_PROC"); v != "" {
		c.ProcPath = v
	}
}
