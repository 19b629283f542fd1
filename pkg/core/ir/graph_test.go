// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func f32Desc(name, opType string, numInputs, numOutputs int) *OpDesc {
	desc := NewOpDesc(name, opType)
	for range numInputs {
		desc.AddInput(MakeTensorDesc(dtypes.Float32, 2, 3))
	}
	for range numOutputs {
		desc.AddOutput(MakeTensorDesc(dtypes.Float32, 2, 3))
	}
	return desc
}

func TestAddRemoveNode(t *testing.T) {
	g := NewGraph("test")
	require.NotEmpty(t, g.ID())
	require.NotEqual(t, g.ID(), NewGraph("test").ID())

	a := must.M1(g.AddNode(f32Desc("a", "Data", 0, 1)))
	b := must.M1(g.AddNode(f32Desc("b", "Neg", 1, 1)))
	require.Equal(t, 2, g.NumNodes())
	require.Equal(t, 1, b.NumInputs())
	require.Equal(t, 1, b.NumOutputs())

	// Names are unique, descriptors must be complete.
	_, err := g.AddNode(f32Desc("a", "Data", 0, 1))
	require.ErrorIs(t, err, ErrInvalid)
	_, err = g.AddNode(nil)
	require.ErrorIs(t, err, ErrInvalid)
	_, err = g.AddNode(NewOpDesc("", "Neg"))
	require.ErrorIs(t, err, ErrInvalid)

	// Connected nodes can't be removed.
	require.NoError(t, g.AddEdge(Endpoint{a.ID(), 0}, Endpoint{b.ID(), 0}))
	require.ErrorIs(t, g.RemoveNode(a.ID()), ErrInvalid)
	require.ErrorIs(t, g.RemoveNode(b.ID()), ErrInvalid)

	require.NoError(t, g.RemoveEdge(Endpoint{a.ID(), 0}, Endpoint{b.ID(), 0}))
	oldID := b.ID()
	require.NoError(t, g.RemoveNode(oldID))
	require.False(t, g.Live(oldID))
	require.False(t, b.Live())
	require.False(t, g.HasName("b"))
	require.Equal(t, 1, g.NumNodes())

	// Slot is reused with a new generation: the old handle stays stale.
	c := must.M1(g.AddNode(f32Desc("b", "Abs", 1, 1)))
	require.NotEqual(t, oldID, c.ID())
	require.False(t, g.Live(oldID))
	got, found := g.NodeByName("b")
	require.True(t, found)
	require.Equal(t, "Abs", got.Type())

	// Removing twice is an error.
	require.ErrorIs(t, g.RemoveNode(oldID), ErrInvalid)
	require.False(t, NodeID{}.Valid())
	require.False(t, g.Live(NodeID{}))
}

func TestEdges(t *testing.T) {
	g := NewGraph("edges")
	x := must.M1(g.AddNode(f32Desc("x", "Data", 0, 1)))
	y := must.M1(g.AddNode(f32Desc("y", "Data", 0, 1)))
	add := must.M1(g.AddNode(f32Desc("add", "Add", 2, 1)))
	n1 := must.M1(g.AddNode(f32Desc("n1", "Neg", 1, 1)))
	n2 := must.M1(g.AddNode(f32Desc("n2", "Neg", 1, 1)))
	n3 := must.M1(g.AddNode(f32Desc("n3", "Neg", 1, 1)))

	out := func(n *Node, idx int) Endpoint { return Endpoint{n.ID(), idx} }
	require.NoError(t, g.AddEdge(out(x, 0), out(add, 0)))
	require.NoError(t, g.AddEdge(out(y, 0), out(add, 1)))

	// Fan-in is forbidden, index bounds are checked.
	require.ErrorIs(t, g.AddEdge(out(y, 0), out(add, 0)), ErrInvalid)
	require.ErrorIs(t, g.AddEdge(out(y, 1), out(n1, 0)), ErrInvalid)
	require.ErrorIs(t, g.AddEdge(out(y, 0), out(n1, 1)), ErrInvalid)
	require.Error(t, g.CanAddEdge(out(x, 0), out(add, 1)))
	require.NoError(t, g.CanAddEdge(out(x, 0), out(n1, 0)))

	for _, n := range []*Node{n1, n2, n3} {
		require.NoError(t, g.AddEdge(out(add, 0), out(n, 0)))
	}
	require.Equal(t, []Endpoint{out(n1, 0), out(n2, 0), out(n3, 0)}, add.OutputPeers(0))
	require.Equal(t, 3, add.NumConsumers())

	// Removing the middle consumer preserves the order of the others.
	require.NoError(t, g.RemoveEdge(out(add, 0), out(n2, 0)))
	require.Equal(t, []Endpoint{out(n1, 0), out(n3, 0)}, add.OutputPeers(0))
	_, connected := n2.InputPeer(0)
	require.False(t, connected)
	require.ErrorIs(t, g.RemoveEdge(out(add, 0), out(n2, 0)), ErrInvalid)

	peer, connected := add.InputPeer(1)
	require.True(t, connected)
	require.Equal(t, out(y, 0), peer)
	_, connected = add.InputPeer(2)
	require.False(t, connected)
	require.Nil(t, add.OutputPeers(5))
}

func TestControlEdges(t *testing.T) {
	g := NewGraph("control")
	a := must.M1(g.AddNode(f32Desc("a", "NoOp", 0, 0)))
	b := must.M1(g.AddNode(f32Desc("b", "NoOp", 0, 0)))
	require.True(t, a.IsIsolated())

	require.NoError(t, g.AddControlEdge(a.ID(), b.ID()))
	require.True(t, g.HasControlEdge(a.ID(), b.ID()))
	require.False(t, g.HasControlEdge(b.ID(), a.ID()))
	require.ErrorIs(t, g.AddControlEdge(a.ID(), b.ID()), ErrInvalid)
	require.ErrorIs(t, g.AddControlEdge(a.ID(), a.ID()), ErrInvalid)
	require.Equal(t, []NodeID{b.ID()}, a.ControlOuts())
	require.Equal(t, []NodeID{a.ID()}, b.ControlIns())
	require.False(t, a.IsIsolated())
	require.ErrorIs(t, g.RemoveNode(a.ID()), ErrInvalid)

	require.NoError(t, g.RemoveControlEdge(a.ID(), b.ID()))
	require.ErrorIs(t, g.RemoveControlEdge(a.ID(), b.ID()), ErrInvalid)
	require.True(t, a.IsIsolated())
	require.NoError(t, g.RemoveNode(a.ID()))
}

func TestOpDescAttrs(t *testing.T) {
	d := NewOpDesc("sel", "Select").
		SetBool("grad_x", true).
		SetInt("axis", -1).
		SetFloat("value", 0).
		SetString("mode", "fast").
		SetDType("T", dtypes.Float32).
		SetInts("axes", []int64{0, 1})

	v, ok := d.GetBool("grad_x")
	require.True(t, ok)
	require.True(t, v)
	_, ok = d.GetBool("axis")
	require.False(t, ok, "type mismatch must not be reported as found")
	dtype, ok := d.GetDType("T")
	require.True(t, ok)
	require.Equal(t, dtypes.Float32, dtype)
	require.Equal(t, []string{"T", "axes", "axis", "grad_x", "mode", "value"}, d.AttrNames())

	clone := d.Clone()
	clone.SetBool("grad_x", false)
	axes, _ := clone.GetInts("axes")
	axes[0] = 7
	v, _ = d.GetBool("grad_x")
	require.True(t, v)
	axes, _ = d.GetInts("axes")
	require.Equal(t, []int64{0, 1}, axes)

	fused := NewOpDesc("fused", "MaximumGrad")
	require.True(t, fused.CopyAttr(d, "T"))
	require.False(t, fused.CopyAttr(d, "missing"))
	require.True(t, fused.HasAttr("T"))
	fused.DeleteAttr("T")
	require.False(t, fused.HasAttr("T"))
	require.Nil(t, fused.Attr("T"))
}

func TestGraphString(t *testing.T) {
	g := NewGraph("dump")
	x := must.M1(g.AddNode(f32Desc("x", "Data", 0, 1)))
	neg := must.M1(g.AddNode(f32Desc("neg", "Neg", 1, 1)))
	neg.Desc().SetDType("T", dtypes.Float32)
	require.NoError(t, g.AddEdge(Endpoint{x.ID(), 0}, Endpoint{neg.ID(), 0}))
	dump := g.String()
	require.Contains(t, dump, `"neg" Neg(x:0)`)
	require.Contains(t, dump, `{T=float32}`)
	require.Contains(t, dump, `->[neg:0]`)
}

func TestErrorsAreWrapped(t *testing.T) {
	g := NewGraph("errors")
	err := g.RemoveNode(NodeID{index: 3, generation: 1})
	require.True(t, errors.Is(err, ErrInvalid))
	require.Contains(t, err.Error(), "not live")
}
