// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error classes. Non-matches are not errors: a pattern that doesn't match a seed is simply skipped.
var (
	// ErrParamInvalid is wrapped by errors caused by invalid parameters: a nil graph, a missing session,
	// or a malformed graph (e.g. an anchor pointing to a removed node). It maps to StatusParamInvalid.
	ErrParamInvalid = errors.New("invalid parameter")

	// ErrInternal is wrapped by errors caused by an inconsistency between a pattern descriptor
	// and the matcher, or by a rewrite that failed mid-way. It maps to StatusFailed.
	//
	// It indicates a bug in a pattern, not a condition to recover from.
	ErrInternal = errors.New("internal inconsistency")
)

func paramInvalidf(format string, args ...any) error {
	return errors.Wrapf(ErrParamInvalid, format, args...)
}

func internalf(format string, args ...any) error {
	return errors.Wrapf(ErrInternal, format, args...)
}

// asInternal classifies err as an internal inconsistency, unless it is already classified.
func asInternal(err error, format string, args ...any) error {
	if errors.Is(err, ErrInternal) || errors.Is(err, ErrParamInvalid) {
		return errors.WithMessagef(err, format, args...)
	}
	return errors.Wrapf(ErrInternal, "%s: %v", fmt.Sprintf(format, args...), err)
}

// StatusOf returns the Status corresponding to the error returned by a pass.
// A nil error maps to StatusNotChanged: the caller should use the status returned with it instead.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusNotChanged
	case errors.Is(err, ErrParamInvalid):
		return StatusParamInvalid
	default:
		return StatusFailed
	}
}
