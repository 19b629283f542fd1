// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape and Format, the building blocks of the tensor descriptors
// attached to the anchors of a graph node.
//
// Shape represents the element type (DType) and dimensions of the value flowing through an anchor.
// Format represents its memory layout, as far as the graph cares about it.
//
// DType is the enum defined in github.com/gomlx/gopjrt/dtypes.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape of the value carried by an anchor.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
//
// It panics if any dimension is negative: unknown dimensions are not supported by the graph descriptors.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with negative dimension", s)
		}
	}
	return s
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid)"
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// dtypeNames are the lower-case names used in graph files and command-line flags.
var dtypeNames = map[string]dtypes.DType{
	"bool":     dtypes.Bool,
	"int8":     dtypes.Int8,
	"int16":    dtypes.Int16,
	"int32":    dtypes.Int32,
	"int64":    dtypes.Int64,
	"uint8":    dtypes.Uint8,
	"uint16":   dtypes.Uint16,
	"uint32":   dtypes.Uint32,
	"uint64":   dtypes.Uint64,
	"float16":  dtypes.Float16,
	"bfloat16": dtypes.BFloat16,
	"float32":  dtypes.Float32,
	"float64":  dtypes.Float64,
}

// ParseDType converts a lower-case dtype name (e.g. "float32") to the DType enum.
func ParseDType(name string) (dtypes.DType, error) {
	dtype, found := dtypeNames[strings.ToLower(name)]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", name)
	}
	return dtype, nil
}

// DTypeName is the inverse of ParseDType. It returns "invalid" for dtypes without a name.
func DTypeName(dtype dtypes.DType) string {
	for name, dt := range dtypeNames {
		if dt == dtype {
			return name
		}
	}
	return "invalid"
}
