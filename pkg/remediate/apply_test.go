// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remediate_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/pcidiag/pkg/remediate"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestApplier_ApplyNeverExecutesOnlyPrints(t *testing.T) {
	store := newTestStore(t)
	var out bytes.Buffer
	applier := remediate.NewApplier(logr.Discard(), &out, store, fixedNow)

	plan := remediate.RemediationPlan{
		ID:     "plan-3",
		Device: "0000:02:00.0",
		Steps: []remediate.RemediationStep{{
			Description: "disable device",
			Command:     "echo 0 > /sys/bus/pci/devices/0000:02:00.0/enable",
		}},
		UndoSteps: []remediate.RemediationStep{{
			Description: "re-enable device",
			Command:     "echo 1 > /sys/bus/pci/devices/0000:02:00.0/enable",
		}},
	}

	receipt, err := applier.Apply(context.Background(), plan)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[DRY-RUN]")
	assert.Contains(t, out.String(), plan.Steps[0].Command)
	assert.Equal(t, "plan-3", receipt.Plan.ID)
}

func TestApplier_UndoReadsReceiptSteps(t *testing.T) {
	store := newTestStore(t)
	var out bytes.Buffer
	applier := remediate.NewApplier(logr.Discard(), &out, store, fixedNow)

	plan := remediate.RemediationPlan{
		ID: "plan-4",
		UndoSteps: []remediate.RemediationStep{{
			Description: "undo it",
			Command:     "echo 1 > /sys/bus/pci/rescan",
		}},
	}
	_, err := applier.Apply(context.Background(), plan)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, applier.Undo(context.Background(), "plan-4"))
	assert.Contains(t, out.String(), "[DRY-RUN UNDO]")
	assert.Contains(t, out.String(), "rescan")
}

func TestApplier_UndoFailsWithoutReceipt(t *testing.T) {
	store := newTestStore(t)
	var out bytes.Buffer
	applier := remediate.NewApplier(logr.Discard(), &out, store, fixedNow)

	err := applier.Undo(context.Background(), "never-applied")
	assert.Error(t, err)
}
