// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package errors_test

import (
	stdliberrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	pdxerrors "github.com/antimetal/pcidiag/pkg/errors"
	"github.com/antimetal/pcidiag/pkg/remediate"
)

func TestErrInputValidation_MatchesWrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("bad input: %w", pdxerrors.ErrInputValidation)
	assert.True(t, stdliberrors.Is(wrapped, pdxerrors.ErrInputValidation))
}

func TestParseStrategy_UnknownWrapsErrInputValidation(t *testing.T) {
	_, err := remediate.ParseStrategy("nonsense")
	assert.True(t, stdliberrors.Is(err, pdxerrors.ErrInputValidation))
}
