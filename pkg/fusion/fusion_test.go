// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"flag"
	"fmt"
	"testing"

	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/support/sets"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestMain(m *testing.M) {
	flag.Parse()
	m.Run()
}

// mulAdd is the role recorder of the toy pattern used in these tests:
// Add(Mul(a, b), c), optionally followed by a Neg.
type mulAdd struct {
	Mul, Add, Neg *ir.Node
}

func mulAddPattern() *Pattern[mulAdd] {
	return &Pattern[mulAdd]{
		Name: "MulAddFusion",
		Root: "mul",
		Roles: []Role[mulAdd]{
			{Name: "mul", OpTypes: sets.MakeWith("Mul"), NumInputs: 2, NumOutputs: 1,
				Slot: func(r *mulAdd) **ir.Node { return &r.Mul }},
			{Name: "add", OpTypes: sets.MakeWith("Add"), NumInputs: 2, NumOutputs: 1,
				Slot: func(r *mulAdd) **ir.Node { return &r.Add }},
			{Name: "neg", OpTypes: sets.MakeWith("Neg"), NumInputs: 1, NumOutputs: 1, Optional: true,
				Slot: func(r *mulAdd) **ir.Node { return &r.Neg }},
		},
		Links: []Link{
			{Producer: "mul", Output: 0, Consumer: "add", Input: 0},
			{Producer: "add", Output: 0, Consumer: "neg", Input: 0},
		},
		Inputs: [][]Port{{{"mul", 0}}, {{"mul", 1}}, {{"add", 1}}},
		Outputs: []OutputSpec{
			{Sources: []OutPort{{"neg", 0}, {"add", 0}}},
		},
		FusedType: func(r *mulAdd) (string, error) {
			if r.Neg != nil {
				return "NegMulAdd", nil
			}
			return "MulAdd", nil
		},
		Synthesize: func(ctx *SynthContext, r *mulAdd) (*ir.OpDesc, error) {
			desc := ir.NewOpDesc(ctx.Name, ctx.FusedType)
			for _, in := range ctx.Inputs {
				desc.AddInput(in)
			}
			desc.AddOutput(ctx.Outputs[0])
			desc.CopyAttr(r.Mul.Desc(), "T")
			return desc, nil
		},
	}
}

func f32Desc(name, opType string, numInputs, numOutputs int) *ir.OpDesc {
	desc := ir.NewOpDesc(name, opType)
	for range numInputs {
		desc.AddInput(ir.MakeTensorDesc(dtypes.Float32, 4))
	}
	for range numOutputs {
		desc.AddOutput(ir.MakeTensorDesc(dtypes.Float32, 4))
	}
	return desc
}

// builder adds nodes and edges, failing the test on any error.
type builder struct {
	t *testing.T
	g *ir.Graph
}

func newBuilder(t *testing.T) *builder {
	return &builder{t: t, g: ir.NewGraph(t.Name())}
}

// op adds a node with one output consuming the given producers (output 0 of each).
func (b *builder) op(name, opType string, inputs ...*ir.Node) *ir.Node {
	node := must.M1(b.g.AddNode(f32Desc(name, opType, len(inputs), 1)))
	b.connect(node, inputs...)
	return node
}

// sink adds a node without outputs.
func (b *builder) sink(name string, inputs ...*ir.Node) *ir.Node {
	node := must.M1(b.g.AddNode(f32Desc(name, "NetOutput", len(inputs), 0)))
	b.connect(node, inputs...)
	return node
}

func (b *builder) connect(node *ir.Node, inputs ...*ir.Node) {
	for ii, in := range inputs {
		require.NoError(b.t, b.g.AddEdge(ir.Endpoint{Node: in.ID()}, ir.Endpoint{Node: node.ID(), Index: ii}))
	}
}

func nodeNamed(t *testing.T, g *ir.Graph, name string) *ir.Node {
	node, found := g.NodeByName(name)
	require.Truef(t, found, "node %q not found in graph:\n%s", name, g)
	return node
}

func producerName(t *testing.T, g *ir.Graph, node *ir.Node, input int) string {
	peer, connected := node.InputPeer(input)
	require.Truef(t, connected, "input #%d of %q not connected", input, node.Name())
	producer, live := g.Node(peer.Node)
	require.True(t, live)
	return producer.Name()
}

func runMulAdd(t *testing.T, g *ir.Graph, kernels KernelInfoStore) (Result, error) {
	c := must.M1(Compile(mulAddPattern()))
	return Run(g, c, Env{Names: NewNameAllocator(), Kernels: kernels})
}

func TestRunRewrites(t *testing.T) {
	b := newBuilder(t)
	a, x, c := b.op("a", "Data"), b.op("x", "Data"), b.op("c", "Data")
	mul := b.op("layer/mul", "Mul", a, x)
	mul.Desc().SetDType("T", dtypes.Float32)
	add := b.op("layer/add", "Add", mul, c)
	out := b.sink("out", add)

	result, err := runMulAdd(t, b.g, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusSuccess, Matches: 1, Effects: 1}, result)
	assert.Equal(t, 5, b.g.NumNodes())
	assert.False(t, b.g.Live(mul.ID()))
	assert.False(t, b.g.Live(add.ID()))

	fused := nodeNamed(t, b.g, "layer/MulAdd_0")
	assert.Equal(t, "MulAdd", fused.Type())
	assert.Equal(t, "a", producerName(t, b.g, fused, 0))
	assert.Equal(t, "x", producerName(t, b.g, fused, 1))
	assert.Equal(t, "c", producerName(t, b.g, fused, 2))
	assert.Equal(t, "layer/MulAdd_0", producerName(t, b.g, out, 0))
	dtype, ok := fused.Desc().GetDType("T")
	require.True(t, ok)
	assert.Equal(t, dtypes.Float32, dtype)

	// Idempotent: nothing left to match.
	result, err = runMulAdd(t, b.g, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusNotChanged}, result)
}

func TestRunOptionalRole(t *testing.T) {
	t.Run("bound", func(t *testing.T) {
		b := newBuilder(t)
		a, x, c := b.op("a", "Data"), b.op("x", "Data"), b.op("c", "Data")
		add := b.op("add", "Add", b.op("mul", "Mul", a, x), c)
		out := b.sink("out", b.op("neg", "Neg", add))
		result, err := runMulAdd(t, b.g, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Effects)
		assert.Equal(t, "NegMulAdd_0", producerName(t, b.g, out, 0))
		assert.Equal(t, 5, b.g.NumNodes())
	})

	t.Run("unbound when binding breaks closure", func(t *testing.T) {
		// add has a second consumer, so neg can't be absorbed: the match stops at add.
		b := newBuilder(t)
		a, x, c := b.op("a", "Data"), b.op("x", "Data"), b.op("c", "Data")
		add := b.op("add", "Add", b.op("mul", "Mul", a, x), c)
		neg := b.op("neg", "Neg", add)
		out1 := b.sink("out1", neg)
		out2 := b.sink("out2", add)
		result, err := runMulAdd(t, b.g, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Effects)
		assert.Equal(t, "MulAdd_0", producerName(t, b.g, neg, 0))
		assert.Equal(t, "neg", producerName(t, b.g, out1, 0))
		assert.Equal(t, "MulAdd_0", producerName(t, b.g, out2, 0))
		fused := nodeNamed(t, b.g, "MulAdd_0")
		assert.Equal(t, 2, fused.NumConsumers())
	})
}

func TestRunClosure(t *testing.T) {
	// mul feeds a node outside the pattern: it can't be removed, so nothing is fused.
	b := newBuilder(t)
	a, x, c := b.op("a", "Data"), b.op("x", "Data"), b.op("c", "Data")
	mul := b.op("mul", "Mul", a, x)
	b.sink("out", b.op("add", "Add", mul, c))
	b.sink("other", mul)
	before := b.g.String()

	result, err := runMulAdd(t, b.g, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusNotChanged}, result)
	assert.Equal(t, before, b.g.String())
}

func TestRunKernels(t *testing.T) {
	b := newBuilder(t)
	a, x, c := b.op("a", "Data"), b.op("x", "Data"), b.op("c", "Data")
	b.sink("out", b.op("add", "Add", b.op("mul", "Mul", a, x), c))
	before := b.g.String()

	result, err := runMulAdd(t, b.g, NewKernelSet("SomethingElse"))
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusNotChanged, Matches: 1}, result)
	assert.Equal(t, before, b.g.String())

	result, err = runMulAdd(t, b.g, NewKernelSet("MulAdd"))
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusSuccess, Matches: 1, Effects: 1}, result)
}

func TestRunControlEdges(t *testing.T) {
	b := newBuilder(t)
	a, x, c := b.op("a", "Data"), b.op("x", "Data"), b.op("c", "Data")
	mul := b.op("mul", "Mul", a, x)
	add := b.op("add", "Add", mul, c)
	b.sink("out", add)
	before, after := b.op("before", "NoOp"), b.op("after", "NoOp")
	require.NoError(t, b.g.AddControlEdge(before.ID(), mul.ID()))
	require.NoError(t, b.g.AddControlEdge(before.ID(), add.ID()))
	require.NoError(t, b.g.AddControlEdge(add.ID(), after.ID()))
	require.NoError(t, b.g.AddControlEdge(mul.ID(), add.ID()))

	_, err := runMulAdd(t, b.g, nil)
	require.NoError(t, err)
	fused := nodeNamed(t, b.g, "MulAdd_0")
	assert.Equal(t, []ir.NodeID{before.ID()}, fused.ControlIns())
	assert.Equal(t, []ir.NodeID{after.ID()}, fused.ControlOuts())
	assert.Equal(t, []ir.NodeID{fused.ID()}, before.ControlOuts())
	assert.Equal(t, []ir.NodeID{fused.ID()}, after.ControlIns())
}

func TestRunErrors(t *testing.T) {
	c := must.M1(Compile(mulAddPattern()))
	result, err := Run(nil, c, Env{Names: NewNameAllocator()})
	require.ErrorIs(t, err, ErrParamInvalid)
	assert.Equal(t, StatusParamInvalid, result.Status)

	_, err = Run(ir.NewGraph("g"), c, Env{})
	require.ErrorIs(t, err, ErrParamInvalid)

	newGraph := func() *ir.Graph {
		b := newBuilder(t)
		a, x, c := b.op("a", "Data"), b.op("x", "Data"), b.op("c", "Data")
		b.sink("out", b.op("add", "Add", b.op("mul", "Mul", a, x), c))
		return b.g
	}

	t.Run("wrong arity", func(t *testing.T) {
		p := mulAddPattern()
		p.Synthesize = func(ctx *SynthContext, r *mulAdd) (*ir.OpDesc, error) {
			return f32Desc(ctx.Name, ctx.FusedType, 2, 1), nil
		}
		g := newGraph()
		before := g.String()
		result, err := Run(g, must.M1(Compile(p)), Env{Names: NewNameAllocator()})
		require.ErrorIs(t, err, ErrInternal)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, StatusFailed, StatusOf(err))
		assert.Equal(t, before, g.String(), "graph must be untouched")
	})

	t.Run("panic", func(t *testing.T) {
		p := mulAddPattern()
		p.FusedType = func(r *mulAdd) (string, error) { panic("boom") }
		g := newGraph()
		before := g.String()
		result, err := Run(g, must.M1(Compile(p)), Env{Names: NewNameAllocator()})
		require.ErrorIs(t, err, ErrInternal)
		require.ErrorContains(t, err, "boom")
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, before, g.String())
	})

	t.Run("synthesize error", func(t *testing.T) {
		p := mulAddPattern()
		p.Synthesize = func(ctx *SynthContext, r *mulAdd) (*ir.OpDesc, error) {
			return nil, fmt.Errorf("no descriptor for %s", ctx.Name)
		}
		_, err := Run(newGraph(), must.M1(Compile(p)), Env{Names: NewNameAllocator()})
		require.ErrorIs(t, err, ErrInternal)
		require.ErrorContains(t, err, "no descriptor for MulAdd_0")
	})
}

func TestRunMultipleMatches(t *testing.T) {
	b := newBuilder(t)
	a, x, c := b.op("a", "Data"), b.op("x", "Data"), b.op("c", "Data")
	add0 := b.op("s0/add", "Add", b.op("s0/mul", "Mul", a, x), c)
	add1 := b.op("s1/add", "Add", b.op("s1/mul", "Mul", add0, x), c)
	out := b.sink("out", add1)

	names := NewNameAllocator()
	result, err := Run(b.g, must.M1(Compile(mulAddPattern())), Env{Names: names})
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusSuccess, Matches: 2, Effects: 2}, result)
	assert.Equal(t, "s1/MulAdd_1", producerName(t, b.g, out, 0))
	assert.Equal(t, "s0/MulAdd_0", producerName(t, b.g, nodeNamed(t, b.g, "s1/MulAdd_1"), 0))
	assert.Equal(t, uint64(2), names.Count())
}

// addChain is the role recorder of Add(Add(a, b), c): its root type also fills the second role,
// so a rewrite can remove seeds collected before it.
type addChain struct {
	First, Second *ir.Node
}

func addChainPattern() *Pattern[addChain] {
	return &Pattern[addChain]{
		Name: "AddChainFusion",
		Root: "first",
		Roles: []Role[addChain]{
			{Name: "first", OpTypes: sets.MakeWith("Add"), NumInputs: 2, NumOutputs: 1,
				Slot: func(r *addChain) **ir.Node { return &r.First }},
			{Name: "second", OpTypes: sets.MakeWith("Add"), NumInputs: 2, NumOutputs: 1,
				Slot: func(r *addChain) **ir.Node { return &r.Second }},
		},
		Links:   []Link{{Producer: "first", Output: 0, Consumer: "second", Input: 0}},
		Inputs:  [][]Port{{{"first", 0}}, {{"first", 1}}, {{"second", 1}}},
		Outputs: []OutputSpec{{Sources: []OutPort{{"second", 0}}}},
		FusedType: func(*addChain) (string, error) {
			return "Add3", nil
		},
		Synthesize: func(ctx *SynthContext, _ *addChain) (*ir.OpDesc, error) {
			desc := ir.NewOpDesc(ctx.Name, ctx.FusedType)
			for _, in := range ctx.Inputs {
				desc.AddInput(in)
			}
			desc.AddOutput(ctx.Outputs[0])
			return desc, nil
		},
	}
}

func TestRunStaleSeed(t *testing.T) {
	// a1 -> a2 -> a3: the first rewrite fuses a1 and a2, so the seed a2 is gone when its turn comes,
	// and a3 has no Add consumer left to match.
	b := newBuilder(t)
	x, y := b.op("x", "Data"), b.op("y", "Data")
	a1 := b.op("a1", "Add", x, y)
	a2 := b.op("a2", "Add", a1, y)
	a3 := b.op("a3", "Add", a2, y)
	b.sink("out", a3)

	c := must.M1(Compile(addChainPattern()))
	result, err := Run(b.g, c, Env{Names: NewNameAllocator()})
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusSuccess, Matches: 1, Effects: 1}, result)
	assert.False(t, b.g.Live(a1.ID()))
	assert.False(t, b.g.Live(a2.ID()))
	assert.Equal(t, "Add3_0", producerName(t, b.g, a3, 0))
	fused := nodeNamed(t, b.g, "Add3_0")
	assert.Equal(t, "x", producerName(t, b.g, fused, 0))
	assert.Equal(t, "y", producerName(t, b.g, fused, 1))
	assert.Equal(t, "y", producerName(t, b.g, fused, 2))

	// A removed seed is a non-match, not an error.
	match, err := MatchAt(b.g, c, a2.ID())
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile[mulAdd](nil)
	require.Error(t, err)

	for name, corrupt := range map[string]func(p *Pattern[mulAdd]){
		"duplicate role": func(p *Pattern[mulAdd]) { p.Roles[1].Name = "mul" },
		"unknown root":   func(p *Pattern[mulAdd]) { p.Root = "nope" },
		"optional root":  func(p *Pattern[mulAdd]) { p.Roles[0].Optional = true },
		"no slot":        func(p *Pattern[mulAdd]) { p.Roles[2].Slot = nil },
		"no synthesize":  func(p *Pattern[mulAdd]) { p.Synthesize = nil },
		"self loop":      func(p *Pattern[mulAdd]) { p.Links[0].Consumer = "mul" },
		"unreachable":    func(p *Pattern[mulAdd]) { p.Links = p.Links[1:] },
		"unknown port":   func(p *Pattern[mulAdd]) { p.Inputs[2][0].Role = "sub" },
		"empty output":   func(p *Pattern[mulAdd]) { p.Outputs[0].Sources = nil },
		"shared output": func(p *Pattern[mulAdd]) {
			p.Roles[2].Shared = true
		},
	} {
		t.Run(name, func(t *testing.T) {
			p := mulAddPattern()
			corrupt(p)
			_, err := Compile(p)
			require.Error(t, err)
		})
	}

	require.Panics(t, func() {
		p := mulAddPattern()
		p.Root = ""
		NewPatternPass(nil, p)
	})
}

func TestNameAllocator(t *testing.T) {
	g := ir.NewGraph("names")
	must.M1(g.AddNode(f32Desc("scope/Fused_1", "Data", 0, 1)))
	names := NewNameAllocator()
	assert.Equal(t, "scope/Fused_0", names.Allocate(g, "scope/Fused"))
	assert.Equal(t, "scope/Fused_2", names.Allocate(g, "scope/Fused"))
	assert.Equal(t, "Other_3", names.Allocate(g, "Other"))
	assert.Equal(t, uint64(4), names.Count())

	assert.Equal(t, "a/b/", scopeOf("a/b/c"))
	assert.Equal(t, "", scopeOf("c"))
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusSuccess.Ok())
	assert.True(t, StatusNotChanged.Ok())
	assert.False(t, StatusFailed.Ok())
	assert.False(t, StatusParamInvalid.Ok())
	assert.Equal(t, "ParamInvalid", StatusParamInvalid.String())
	s, err := StatusString("NotChanged")
	require.NoError(t, err)
	assert.Equal(t, StatusNotChanged, s)

	assert.Equal(t, StatusNotChanged, StatusOf(nil))
	assert.Equal(t, StatusParamInvalid, StatusOf(paramInvalidf("x")))
	assert.Equal(t, StatusFailed, StatusOf(internalf("x")))
	assert.Equal(t, StatusFailed, StatusOf(fmt.Errorf("unclassified")))
	assert.ErrorIs(t, asInternal(paramInvalidf("bad"), "context"), ErrParamInvalid)
	assert.ErrorIs(t, asInternal(fmt.Errorf("bad"), "context"), ErrInternal)
}

func TestFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.True(t, f.Allows("A"))

	f, err = ParseFilter("A, B")
	require.NoError(t, err)
	assert.True(t, f.Allows("A"))
	assert.True(t, f.Allows("B"))
	assert.False(t, f.Allows("C"))

	f, err = ParseFilter("-A")
	require.NoError(t, err)
	assert.False(t, f.Allows("A"))
	assert.True(t, f.Allows("B"))

	_, err = ParseFilter("A,-A")
	require.ErrorIs(t, err, ErrParamInvalid)
	_, err = ParseFilter("-")
	require.ErrorIs(t, err, ErrParamInvalid)

	t.Setenv(GOMLX_FUSION, "-B")
	f, err = FilterFromEnv()
	require.NoError(t, err)
	assert.False(t, f.Allows("B"))
}

func TestMemoryStats(t *testing.T) {
	m := NewMemoryStats()
	other := NewMemoryStats()
	var recorder StatsRecorder = MultiStats{m, nil, other}
	key := StatsKey{SessionID: "s", GraphID: "g", Pass: "P"}
	recorder.Record(key, 2, 1)
	recorder.Record(key, 1, 1)
	recorder.Record(StatsKey{SessionID: "s", GraphID: "g", Pass: "A"}, 0, 0)
	assert.Equal(t, PassStats{Invocations: 2, Matches: 3, Effects: 2}, m.Get(key))
	assert.Equal(t, m.Get(key), other.Get(key))

	entries := m.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].Pass)
	assert.Equal(t, 3, entries[1].Matches)

	s := &Session{Stats: MultiStats{other}}
	assert.Same(t, other, s.MemoryStats())
}

func TestManager(t *testing.T) {
	const passName = "TestMulAddFusionPass"
	Register(passName, BuiltIn, func(s *Session) Pass {
		p := mulAddPattern()
		p.Name = passName
		return NewPatternPass(s, p)
	})
	require.Panics(t, func() { Register(passName, BuiltIn, nil) })
	require.Contains(t, Registered(BuiltIn), passName)
	require.NotContains(t, Registered(SecondRoundBuiltIn), passName)
	category, found := CategoryOf(passName)
	require.True(t, found)
	assert.Equal(t, BuiltIn, category)
	_, err := NewPass("NoSuchPass", nil)
	require.ErrorIs(t, err, ErrParamInvalid)

	newGraph := func() *ir.Graph {
		b := newBuilder(t)
		a, x, c := b.op("a", "Data"), b.op("x", "Data"), b.op("c", "Data")
		b.sink("out", b.op("add", "Add", b.op("mul", "Mul", a, x), c))
		return b.g
	}

	session := NewSession()
	m := NewManager(session, Filter{})
	g := newGraph()
	status, err := m.Run(g, BuiltIn)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	stats := session.MemoryStats().Get(StatsKey{SessionID: session.ID, GraphID: g.ID(), Pass: passName})
	assert.Equal(t, PassStats{Invocations: 1, Matches: 1, Effects: 1}, stats)

	status, err = m.Run(g, SecondRoundBuiltIn)
	require.NoError(t, err)
	assert.Equal(t, StatusNotChanged, status)

	// Filtered out.
	m = NewManager(nil, must.M1(ParseFilter("-"+passName)))
	assert.NotContains(t, m.Passes(BuiltIn), passName)
	status, err = m.Run(newGraph(), BuiltIn)
	require.NoError(t, err)
	assert.Equal(t, StatusNotChanged, status)

	// Unsupported kernel.
	m = NewManager(nil, must.M1(ParseFilter(passName))).WithKernels(NewKernelSet())
	status, err = m.Run(newGraph(), BuiltIn)
	require.NoError(t, err)
	assert.Equal(t, StatusNotChanged, status)

	status, err = m.Run(nil, BuiltIn)
	require.ErrorIs(t, err, ErrParamInvalid)
	assert.Equal(t, StatusParamInvalid, status)

	c, err := ParseCategory("SecondRoundBuiltIn")
	require.NoError(t, err)
	assert.Equal(t, SecondRoundBuiltIn, c)
	_, err = ParseCategory("Third")
	require.Error(t, err)
}
