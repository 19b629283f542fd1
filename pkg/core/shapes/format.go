// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Format is the memory layout of a tensor, as recorded in a tensor descriptor.
type Format int

const (
	FormatND Format = iota
	FormatNCHW
	FormatNHWC
	FormatNC1HWC0
)

var formatNames = []string{"ND", "NCHW", "NHWC", "NC1HWC0"}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// ParseFormat converts a format name (case-insensitive) to a Format. The empty string maps to FormatND.
func ParseFormat(name string) (Format, error) {
	if name == "" {
		return FormatND, nil
	}
	for ii, fName := range formatNames {
		if strings.EqualFold(fName, name) {
			return Format(ii), nil
		}
	}
	return FormatND, errors.Errorf("unknown tensor format %q", name)
}
