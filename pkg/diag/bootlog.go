// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diag

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
)

// BootLogSource is the external dependency boundary for journal access,
// per the capability-gated integration design note: a real implementation
// wraps journalctl, a fake implementation supplies canned data for tests.
type BootLogSource interface {
	// ListBoots returns the most recent max recorded boots, oldest first.
	// When the journal tool is unavailable, it returns an empty list
	// rather than an error.
	ListBoots(ctx context.Context, max int) ([]BootEntry, error)

	// ReadBootLog returns the kernel-only journal text for bootID.
	ReadBootLog(ctx context.Context, bootID string) (string, error)
}

// JournalBootLogSource is a BootLogSource backed by the journalctl binary.
type JournalBootLogSource struct {
	Logger logr.Logger
}

func (j JournalBootLogSource) ListBoots(ctx context.Context, max int) ([]BootEntry, error) {
	out, err := backoff.Retry(ctx, func() (string, error) {
		cmd := exec.CommandContext(ctx, "journalctl", "--list-boots", "--no-pager", "-q")
		data, err := cmd.Output()
		return string(data), err
	}, backoff.WithMaxTries(2))
	if err != nil {
		j.Logger.V(1).Info("journalctl --list-boots unavailable, returning empty boot list", "err", err)
		return []BootEntry{}, nil
	}

	var boots []BootEntry
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 4 {
			continue
		}
		bootID := parts[1]
		timestampRange := strings.Join(parts[2:], " ")
		boots = append(boots, BootEntry{
			BootID:         bootID,
			TimestampRange: timestampRange,
			DurationSecs:   estimateBootDuration(timestampRange),
		})
	}

	if len(boots) > max {
		boots = boots[len(boots)-max:]
	}
	return boots, nil
}

func (j JournalBootLogSource) ReadBootLog(ctx context.Context, bootID string) (string, error) {
	out, err := backoff.Retry(ctx, func() (string, error) {
		cmd := exec.CommandContext(ctx, "journalctl", "-b", bootID, "-k", "--no-pager", "-q", "--no-hostname")
		data, err := cmd.Output()
		return string(data), err
	}, backoff.WithMaxTries(2))
	if err != nil {
		j.Logger.V(1).Info("journalctl -b unavailable, returning empty boot log", "boot_id", bootID, "err", err)
		return "", nil
	}
	return out, nil
}

// estimateBootDuration parses journalctl's "<start>—<end>" timestamp
// range, defaulting to 3600 seconds (one hour) on any parse failure, per
// the Parse error kind's recovery policy.
func estimateBootDuration(timestampRange string) uint64 {
	const dash = "—"
	idx := strings.Index(timestampRange, dash)
	if idx < 0 {
		return 3600
	}
	start := timestampRange[:idx]
	end := timestampRange[idx+len(dash):]

	s, sok := parseEpochRough(start)
	e, eok := parseEpochRough(end)
	if sok && eok && e > s {
		return e - s
	}
	return 3600
}

// parseEpochRough extracts an HH:MM:SS token and converts it to a second
// count. This intentionally ignores the date component: it is only used
// to estimate a single boot's session duration, which never spans a
// day boundary in practice in the reference implementation.
func parseEpochRough(ts string) (uint64, bool) {
	for _, part := range strings.Fields(ts) {
		timeParts := strings.Split(part, ":")
		if len(timeParts) != 3 {
			continue
		}
		h, errH := strconv.ParseUint(timeParts[0], 10, 64)
		m, errM := strconv.ParseUint(timeParts[1], 10, 64)
		s, errS := strconv.ParseUint(timeParts[2], 10, 64)
		if errH == nil && errM == nil && errS == nil {
			return h*3600 + m*60 + s, true
		}
	}
	return 0, false
}
