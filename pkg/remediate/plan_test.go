// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remediate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/pcidiag/pkg/remediate"
)

type fakeIDReader struct {
	ids map[string][2]string
}

func (f fakeIDReader) PciID(slot string) (string, string, error) {
	id, ok := f.ids[slot]
	if !ok {
		return "", "", assert.AnError
	}
	return id[0], id[1], nil
}

func fixedClock() int64 { return 1700000000 }

func TestParseStrategy_Synonyms(t *testing.T) {
	cases := map[string]remediate.Strategy{
		"":          remediate.StrategyDualNullDriver,
		"pci-stub":  remediate.StrategyPciStub,
		"vfio-pci":  remediate.StrategyVfioPci,
		"dual":      remediate.StrategyDualNullDriver,
		"both":      remediate.StrategyDualNullDriver,
		"power-off": remediate.StrategyAcpiPowerOff,
		"disable":   remediate.StrategySysfsDisable,
		"unbind":    remediate.StrategyDriverUnbind,
	}
	for name, want := range cases {
		got, err := remediate.ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseStrategy_Unknown(t *testing.T) {
	_, err := remediate.ParseStrategy("nonsense")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy: nonsense")
}

func TestStrategyName_IsInverseOfParseStrategy(t *testing.T) {
	for _, s := range []remediate.Strategy{
		remediate.StrategyPciStub, remediate.StrategyVfioPci, remediate.StrategyDualNullDriver,
		remediate.StrategyAcpiPowerOff, remediate.StrategySysfsDisable, remediate.StrategyDriverUnbind,
	} {
		name := remediate.StrategyName(s)
		parsed, err := remediate.ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
}

func TestStrategy_RequiresReboot(t *testing.T) {
	assert.True(t, remediate.StrategyPciStub.RequiresReboot())
	assert.True(t, remediate.StrategyVfioPci.RequiresReboot())
	assert.True(t, remediate.StrategyDualNullDriver.RequiresReboot())
	assert.False(t, remediate.StrategyAcpiPowerOff.RequiresReboot())
	assert.False(t, remediate.StrategySysfsDisable.RequiresReboot())
	assert.False(t, remediate.StrategyDriverUnbind.RequiresReboot())
}

func TestCreatePlan_KargsStrategyHasInverseUndo(t *testing.T) {
	reader := fakeIDReader{ids: map[string][2]string{"0000:02:00.0": {"10de", "13b0"}}}

	for _, strategy := range []string{"pci-stub", "vfio-pci", "dual"} {
		plan, err := remediate.CreatePlan(reader, fixedClock, "0000:02:00.0", strategy)
		require.NoError(t, err)
		require.Len(t, plan.Steps, 1)
		require.Len(t, plan.UndoSteps, 1)
		assert.True(t, plan.RequiresReboot)

		applyArgs := commandArgs(plan.Steps[0].Command)
		undoArgs := commandArgs(plan.UndoSteps[0].Command)
		require.Equal(t, len(applyArgs), len(undoArgs))
		for i := range applyArgs {
			assert.Equal(t,
				strings.Replace(applyArgs[i], "--append=", "--delete=", 1),
				undoArgs[i],
				"undo arg %d must be the append arg's exact delete counterpart", i)
		}
	}
}

func TestCreatePlan_AcpiPowerOffPlan(t *testing.T) {
	reader := fakeIDReader{ids: map[string][2]string{"0000:03:00.0": {"1002", "67df"}}}

	plan, err := remediate.CreatePlan(reader, fixedClock, "0000:03:00.0", "power-off")
	require.NoError(t, err)
	assert.False(t, plan.RequiresReboot)
	require.Len(t, plan.Steps, 2)
	require.Len(t, plan.UndoSteps, 1)
	assert.Contains(t, plan.Steps[1].Command, "/remove")
	assert.Contains(t, plan.UndoSteps[0].Command, "/rescan")
}

func TestCreatePlan_UnknownDeviceFails(t *testing.T) {
	reader := fakeIDReader{}
	_, err := remediate.CreatePlan(reader, fixedClock, "0000:99:00.0", "disable")
	assert.Error(t, err)
}

func TestCreateMultiPlan_DualStrategyCombinesTwoDevices(t *testing.T) {
	reader := fakeIDReader{ids: map[string][2]string{
		"0000:02:00.0": {"10de", "13b0"},
		"0000:02:00.1": {"10de", "0fb0"},
	}}

	multi, err := remediate.CreateMultiPlan(reader, fixedClock, []string{"0000:02:00.0", "0000:02:00.1"}, "dual")
	require.NoError(t, err)
	assert.True(t, multi.RequiresReboot)
	require.Len(t, multi.Plans, 1)

	combined := multi.Plans[0]
	assert.Contains(t, combined.Steps[0].Command, "10de:13b0,10de:0fb0")
	assert.Contains(t, combined.UndoSteps[0].Command, "10de:13b0,10de:0fb0")
}

func TestCreateMultiPlan_PerDeviceStrategyProducesOnePlanEach(t *testing.T) {
	reader := fakeIDReader{ids: map[string][2]string{
		"0000:02:00.0": {"10de", "13b0"},
		"0000:02:00.1": {"10de", "0fb0"},
	}}

	multi, err := remediate.CreateMultiPlan(reader, fixedClock, []string{"0000:02:00.0", "0000:02:00.1"}, "disable")
	require.NoError(t, err)
	assert.Len(t, multi.Plans, 2)
	assert.False(t, multi.RequiresReboot)
}

func commandArgs(command string) []string {
	fields := strings.Fields(command)
	var args []string
	for _, f := range fields {
		if strings.HasPrefix(f, "--") {
			args = append(args, f)
		}
	}
	return args
}
