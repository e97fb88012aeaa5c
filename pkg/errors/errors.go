// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package errors

import (
	stdliberrors "errors"
)

// Error kind sentinels for the diagnostic engine's error taxonomy. Callers
// match against these with errors.Is rather than inspecting message text.
//
// ErrEnvironment and ErrInputValidation are fatal and always propagate.
// ErrRead and ErrParse are never returned to a caller: the reader and
// classifier absorb them locally into default values. ErrExternalTool is
// never returned either; a failing external tool yields an empty result.
// ErrSerialization propagates.
var (
	ErrEnvironment     = stdliberrors.New("environment error")
	ErrRead            = stdliberrors.New("read error")
	ErrParse           = stdliberrors.New("parse error")
	ErrInputValidation = stdliberrors.New("input validation error")
	ErrExternalTool    = stdliberrors.New("external tool error")
	ErrSerialization   = stdliberrors.New("serialization error")
)
