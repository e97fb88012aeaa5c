// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pci

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDescriber struct{}

func (fakeDescriber) Describe(ctx context.Context, slot string) string { return "fake description" }

func TestScan_ProducesSortedClassifiedReport(t *testing.T) {
	sysPath := filepath.Join(t.TempDir(), "sys")
	devRoot := filepath.Join(sysPath, "bus", "pci", "devices")
	require.NoError(t, os.MkdirAll(devRoot, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(sysPath, "proc"), 0o755))

	zombiePath := filepath.Join(devRoot, "0000:02:00.0")
	require.NoError(t, os.MkdirAll(zombiePath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(zombiePath, "vendor"), []byte("0x10de"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(zombiePath, "device"), []byte("0x13b0"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(zombiePath, "enable"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(zombiePath, "power_state"), []byte("D0"), 0o644))

	reader, err := NewReader(logr.Discard(), Config{SysPath: sysPath, ProcPath: filepath.Join(sysPath, "proc")})
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	report, err := Scan(context.Background(), logr.Discard(), reader, fakeDescriber{}, now, nil)
	require.NoError(t, err)

	require.Len(t, report.Devices, 1)
	assert.Equal(t, "fake description", report.Devices[0].Description)
	require.Len(t, report.Devices[0].Issues, 1)
	assert.Equal(t, IssueZombieDevice, report.Devices[0].Issues[0].Kind)
	assert.Equal(t, RiskHigh, report.RiskLevel)
	assert.NotNil(t, report.AcpiErrors)
}
