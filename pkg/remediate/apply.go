// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package remediate

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/util/workqueue"
)

// Applier executes (or dry-runs) remediation plan steps. It never shells
// out to a privileged command itself: every step is printed, never
// invoked, matching the "the planner and applier are advisory" design
// note.
type Applier struct {
	logger logr.Logger
	out    io.Writer
	store  *Store
	now    func() time.Time
}

// NewApplier returns an Applier that writes dry-run output to out and
// persists receipts to store.
func NewApplier(logger logr.Logger, out io.Writer, store *Store, now func() time.Time) *Applier {
	return &Applier{
		logger: logger.WithName("remediate-applier"),
		out:    out,
		store:  store,
		now:    now,
	}
}

// Apply dry-runs every step of plan in order, printing each with a
// DRY-RUN prefix, then records a receipt once all steps have been
// printed. No step is ever actually executed.
func (a *Applier) Apply(ctx context.Context, plan RemediationPlan) (RemediationReceipt, error) {
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return RemediationReceipt{}, err
		}
		fmt.Fprintf(a.out, "[DRY-RUN] step %d/%d: %s\n  $ %s\n", i+1, len(plan.Steps), step.Description, step.Command)
	}

	receipt := RemediationReceipt{
		Plan:          plan,
		AppliedAt:     a.now().UTC().Format(time.RFC3339),
		RebootPending: plan.RequiresReboot,
		PreState:      "unknown",
	}
	if err := a.store.SaveReceipt(receipt); err != nil {
		return RemediationReceipt{}, err
	}
	a.logger.V(1).Info("recorded dry-run receipt", "plan_id", plan.ID)
	return receipt, nil
}

// Undo dry-runs a previously applied plan's undo steps in order, reading
// them back from the stored receipt rather than trusting a caller-
// supplied plan. This is the operational half of the inverse law: every
// apply strategy has a matching undo, and Undo always walks the same
// receipt Apply wrote.
func (a *Applier) Undo(ctx context.Context, planID string) error {
	receipt, err := a.store.GetReceipt(planID)
	if err != nil {
		return fmt.Errorf("no receipt found for plan %s, cannot undo: %w", planID, err)
	}

	for i, step := range receipt.Plan.UndoSteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "[DRY-RUN UNDO] step %d/%d: %s\n  $ %s\n", i+1, len(receipt.Plan.UndoSteps), step.Description, step.Command)
	}
	return nil
}

// ApplyMultiWithRetry dry-runs every sub-plan of a MultiDevicePlan,
// retrying a failing sub-plan (e.g. a transient store write error) up to
// maxRetries times via a bounded rate-limited workqueue before giving up
// on that one plan and moving to the next. This is the one place a
// multi-step remediation run benefits from the same retry-queue
// machinery used elsewhere for eventual-consistency workloads, scaled
// down to a handful of items instead of a continuous stream.
func (a *Applier) ApplyMultiWithRetry(ctx context.Context, multi MultiDevicePlan, maxRetries int) ([]RemediationReceipt, []error) {
	q := workqueue.NewTypedRateLimitingQueue[string](workqueue.DefaultTypedControllerRateLimiter[string]())
	defer q.ShutDown()

	byID := make(map[string]RemediationPlan, len(multi.Plans))
	for _, p := range multi.Plans {
		byID[p.ID] = p
		q.Add(p.ID)
	}

	receipts := make([]RemediationReceipt, 0, len(multi.Plans))
	var errs []error

	// Count unfinished plans rather than checking q.Len(): a plan waiting
	// out its rate-limit delay is not in the queue yet, and q.Get blocks
	// until it is.
	remaining := len(byID)
	for remaining > 0 {
		id, shutdown := q.Get()
		if shutdown {
			break
		}

		plan := byID[id]
		receipt, err := a.Apply(ctx, plan)
		if err == nil {
			q.Forget(id)
			q.Done(id)
			receipts = append(receipts, receipt)
			remaining--
			continue
		}

		if q.NumRequeues(id) < maxRetries {
			q.Done(id)
			q.AddRateLimited(id)
			continue
		}

		q.Forget(id)
		q.Done(id)
		errs = append(errs, fmt.Errorf("plan %s: %w", id, err))
		remaining--
	}

	return receipts, errs
}
