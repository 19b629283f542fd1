// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

// Status reported by a pass invocation.
//
// StatusSuccess and StatusNotChanged both mean the graph is valid to proceed.
// StatusFailed and StatusParamInvalid must abort the enclosing compilation.
type Status int

//go:generate go tool enumer -type=Status -trimprefix=Status -output=gen_status_enumer.go status.go

const (
	StatusSuccess Status = iota
	StatusNotChanged
	StatusFailed
	StatusParamInvalid
)

// Ok returns whether the graph can be used by the following passes.
func (s Status) Ok() bool {
	return s == StatusSuccess || s == StatusNotChanged
}
