// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateBootDuration(t *testing.T) {
	assert.Equal(t, uint64(3600), estimateBootDuration("Mon 10:00:00—Mon 11:00:00"))
	assert.Equal(t, uint64(30), estimateBootDuration("Mon 10:00:00—Mon 10:00:30"))
	assert.Equal(t, uint64(3600), estimateBootDuration("not a timestamp range"))
	assert.Equal(t, uint64(3600), estimateBootDuration("Mon 11:00:00—Mon 10:00:00"))
}
