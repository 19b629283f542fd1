// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// TensorDesc describes the value flowing through one anchor.
type TensorDesc struct {
	Shape  shapes.Shape
	Format shapes.Format
}

// MakeTensorDesc returns a TensorDesc with format ND.
func MakeTensorDesc(dtype dtypes.DType, dimensions ...int) TensorDesc {
	return TensorDesc{Shape: shapes.Make(dtype, dimensions...), Format: shapes.FormatND}
}

// Clone returns a deep copy.
func (t TensorDesc) Clone() TensorDesc {
	return TensorDesc{Shape: t.Shape.Clone(), Format: t.Format}
}

// Equal returns whether both descriptors have the same shape and format.
func (t TensorDesc) Equal(t2 TensorDesc) bool {
	return t.Format == t2.Format && t.Shape.Equal(t2.Shape)
}

// String implements fmt.Stringer.
func (t TensorDesc) String() string {
	if t.Format == shapes.FormatND {
		return t.Shape.String()
	}
	return fmt.Sprintf("%s/%s", t.Shape, t.Format)
}

// OpDesc is the operator descriptor of a node: identity, tensor descriptors per anchor and attributes.
//
// The number of input and output anchors of a node is given by the number of tensor descriptors
// in its OpDesc when the node is added to the graph.
type OpDesc struct {
	Name    string
	Type    string
	Inputs  []TensorDesc
	Outputs []TensorDesc

	attrs map[string]any
}

// NewOpDesc creates an OpDesc with no anchors nor attributes.
func NewOpDesc(name, opType string) *OpDesc {
	return &OpDesc{Name: name, Type: opType}
}

// AddInput appends an input tensor descriptor. It returns the OpDesc itself, so calls can be chained.
func (d *OpDesc) AddInput(desc TensorDesc) *OpDesc {
	d.Inputs = append(d.Inputs, desc)
	return d
}

// AddOutput appends an output tensor descriptor. It returns the OpDesc itself, so calls can be chained.
func (d *OpDesc) AddOutput(desc TensorDesc) *OpDesc {
	d.Outputs = append(d.Outputs, desc)
	return d
}

// Clone returns a deep copy of the descriptor.
func (d *OpDesc) Clone() *OpDesc {
	d2 := &OpDesc{
		Name:    d.Name,
		Type:    d.Type,
		Inputs:  make([]TensorDesc, len(d.Inputs)),
		Outputs: make([]TensorDesc, len(d.Outputs)),
	}
	for ii, td := range d.Inputs {
		d2.Inputs[ii] = td.Clone()
	}
	for ii, td := range d.Outputs {
		d2.Outputs[ii] = td.Clone()
	}
	for key, value := range d.attrs {
		if list, ok := value.([]int64); ok {
			value = slices.Clone(list)
		}
		d2.setAttr(key, value)
	}
	return d2
}

func (d *OpDesc) setAttr(key string, value any) *OpDesc {
	if d.attrs == nil {
		d.attrs = make(map[string]any)
	}
	d.attrs[key] = value
	return d
}

// HasAttr returns whether the attribute is set, regardless of its type.
func (d *OpDesc) HasAttr(key string) bool {
	_, found := d.attrs[key]
	return found
}

// AttrNames returns the sorted names of the attributes set.
func (d *OpDesc) AttrNames() []string {
	return slices.Sorted(maps.Keys(d.attrs))
}

// Attr returns the raw attribute value, or nil if not set.
func (d *OpDesc) Attr(key string) any {
	return d.attrs[key]
}

// DeleteAttr removes the attribute, if set.
func (d *OpDesc) DeleteAttr(key string) {
	delete(d.attrs, key)
}

// CopyAttr copies the attribute key from the donor descriptor.
// It returns false, and leaves d untouched, if the donor doesn't have it.
func (d *OpDesc) CopyAttr(donor *OpDesc, key string) bool {
	value, found := donor.attrs[key]
	if !found {
		return false
	}
	if list, ok := value.([]int64); ok {
		value = slices.Clone(list)
	}
	d.setAttr(key, value)
	return true
}

// SetBool sets a boolean attribute.
func (d *OpDesc) SetBool(key string, value bool) *OpDesc { return d.setAttr(key, value) }

// SetInt sets an integer attribute.
func (d *OpDesc) SetInt(key string, value int64) *OpDesc { return d.setAttr(key, value) }

// SetFloat sets a float attribute.
func (d *OpDesc) SetFloat(key string, value float64) *OpDesc { return d.setAttr(key, value) }

// SetString sets a string attribute.
func (d *OpDesc) SetString(key string, value string) *OpDesc { return d.setAttr(key, value) }

// SetDType sets a dtype attribute (e.g. the "T" attribute of most operators).
func (d *OpDesc) SetDType(key string, value dtypes.DType) *OpDesc { return d.setAttr(key, value) }

// SetInts sets a list of integers attribute.
func (d *OpDesc) SetInts(key string, value []int64) *OpDesc { return d.setAttr(key, slices.Clone(value)) }

func getAttr[T any](d *OpDesc, key string) (value T, ok bool) {
	raw, found := d.attrs[key]
	if !found {
		return
	}
	value, ok = raw.(T)
	return
}

// GetBool returns the boolean attribute. ok is false if not set or if of a different type.
func (d *OpDesc) GetBool(key string) (value bool, ok bool) { return getAttr[bool](d, key) }

// GetInt returns the integer attribute. ok is false if not set or if of a different type.
func (d *OpDesc) GetInt(key string) (value int64, ok bool) { return getAttr[int64](d, key) }

// GetFloat returns the float attribute. ok is false if not set or if of a different type.
func (d *OpDesc) GetFloat(key string) (value float64, ok bool) { return getAttr[float64](d, key) }

// GetString returns the string attribute. ok is false if not set or if of a different type.
func (d *OpDesc) GetString(key string) (value string, ok bool) { return getAttr[string](d, key) }

// GetDType returns the dtype attribute. ok is false if not set or if of a different type.
func (d *OpDesc) GetDType(key string) (value dtypes.DType, ok bool) {
	return getAttr[dtypes.DType](d, key)
}

// GetInts returns a copy of the list of integers attribute. ok is false if not set or if of a different type.
func (d *OpDesc) GetInts(key string) (value []int64, ok bool) {
	value, ok = getAttr[[]int64](d, key)
	return slices.Clone(value), ok
}

// attrsString pretty-prints the attributes in a deterministic order.
func (d *OpDesc) attrsString() string {
	if len(d.attrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d.attrs))
	for _, key := range d.AttrNames() {
		value := d.attrs[key]
		if dtype, ok := value.(dtypes.DType); ok {
			value = shapes.DTypeName(dtype)
		}
		parts = append(parts, fmt.Sprintf("%s=%v", key, value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
