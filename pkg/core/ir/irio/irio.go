// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package irio reads and writes graphs in a YAML format.
//
// Example:
//
//	name: model
//	nodes:
//	  - name: x
//	    type: Data
//	    outputs: [{dtype: float32, dims: [8, 4]}]
//	  - name: zeros
//	    type: Const
//	    outputs: [{dtype: float32, dims: [8, 4]}]
//	    float_attrs: {value: 0}
//	  - name: cmp
//	    type: GreaterEqual
//	    inputs: ["x:0", "y"]
//	    outputs: [{dtype: bool, dims: [8, 4]}]
//	    dtype_attrs: {T: float32}
//	    control: [init]
//
// Inputs are given as "<producer>:<output index>", or "<producer>" for output 0. An unconnected input is
// given as "_", and then its descriptor must be given in "input_descs". Otherwise, the descriptor of each
// input is the one of its producer's output.
//
// Attributes in "attrs" are typed by their YAML value: booleans, integers, floats, strings and lists of
// integers. Since YAML writes a float with an integer value as an integer, float attributes are written
// in "float_attrs", and DType attributes in "dtype_attrs".
package irio

import (
	"bytes"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Unconnected is the input reference of an input without producer.
const Unconnected = "_"

// GraphFile is the YAML representation of a graph.
type GraphFile struct {
	Name  string     `yaml:"name"`
	Nodes []NodeFile `yaml:"nodes"`
}

// NodeFile is the YAML representation of a node.
type NodeFile struct {
	Name       string             `yaml:"name"`
	Type       string             `yaml:"type"`
	Inputs     []string           `yaml:"inputs,omitempty"`
	InputDescs []TensorFile       `yaml:"input_descs,omitempty"`
	Outputs    []TensorFile       `yaml:"outputs,omitempty"`
	Control    []string           `yaml:"control,omitempty"`
	Attrs      map[string]any     `yaml:"attrs,omitempty"`
	FloatAttrs map[string]float64 `yaml:"float_attrs,omitempty"`
	DTypeAttrs map[string]string  `yaml:"dtype_attrs,omitempty"`
}

// TensorFile is the YAML representation of an ir.TensorDesc.
type TensorFile struct {
	DType  string `yaml:"dtype"`
	Dims   []int  `yaml:"dims,flow"`
	Format string `yaml:"format,omitempty"`
}

// Desc converts to an ir.TensorDesc.
func (tf TensorFile) Desc() (ir.TensorDesc, error) {
	dtype, err := shapes.ParseDType(tf.DType)
	if err != nil {
		return ir.TensorDesc{}, err
	}
	format, err := shapes.ParseFormat(tf.Format)
	if err != nil {
		return ir.TensorDesc{}, err
	}
	for _, dim := range tf.Dims {
		if dim < 0 {
			return ir.TensorDesc{}, errors.Errorf("negative dimension in %v", tf.Dims)
		}
	}
	return ir.TensorDesc{Shape: shapes.Make(dtype, tf.Dims...), Format: format}, nil
}

func tensorFile(desc ir.TensorDesc) TensorFile {
	tf := TensorFile{DType: shapes.DTypeName(desc.Shape.DType), Dims: slices.Clone(desc.Shape.Dimensions)}
	if desc.Format != shapes.FormatND {
		tf.Format = desc.Format.String()
	}
	if tf.Dims == nil {
		tf.Dims = []int{}
	}
	return tf
}

// Parse a graph from its YAML representation.
func Parse(data []byte) (*ir.Graph, error) {
	var gf GraphFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return nil, errors.Wrap(err, "irio.Parse")
	}
	return Build(&gf)
}

// Read parses a graph from r.
func Read(r io.Reader) (*ir.Graph, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "irio.Read")
	}
	return Parse(data)
}

// Load parses the graph in the file at path.
func Load(path string) (*ir.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read graph from %q", path)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", path)
	}
	return g, nil
}

type inputRef struct {
	producer string
	output   int
}

// parseInputRef splits "producer:index" on the last colon, so producer names may contain colons
// as long as the index is given.
func parseInputRef(ref string) (inputRef, error) {
	sep := strings.LastIndex(ref, ":")
	if sep == -1 {
		return inputRef{producer: ref}, nil
	}
	name, index := ref[:sep], ref[sep+1:]
	output, err := strconv.Atoi(index)
	if err != nil || output < 0 {
		return inputRef{}, errors.Errorf("invalid input reference %q: output index must be a non-negative integer", ref)
	}
	return inputRef{producer: name, output: output}, nil
}

// Build creates the graph described by gf.
//
// Nodes are created in a first phase and connected in a second one, so producers can be listed after their
// consumers.
func Build(gf *GraphFile) (*ir.Graph, error) {
	g := ir.NewGraph(gf.Name)
	descs := make(map[string]*ir.OpDesc, len(gf.Nodes))
	refs := make(map[string][]inputRef, len(gf.Nodes))

	// Output descriptors of every node, needed to derive input descriptors.
	for _, nf := range gf.Nodes {
		desc := ir.NewOpDesc(nf.Name, nf.Type)
		for ii, tf := range nf.Outputs {
			td, err := tf.Desc()
			if err != nil {
				return nil, errors.WithMessagef(err, "node %q output #%d", nf.Name, ii)
			}
			desc.AddOutput(td)
		}
		if _, found := descs[nf.Name]; found {
			return nil, errors.Errorf("duplicate node name %q", nf.Name)
		}
		descs[nf.Name] = desc
	}
	for _, nf := range gf.Nodes {
		desc := descs[nf.Name]
		if len(nf.InputDescs) > 0 && len(nf.InputDescs) != len(nf.Inputs) {
			return nil, errors.Errorf("node %q has %d inputs but %d input_descs", nf.Name, len(nf.Inputs), len(nf.InputDescs))
		}
		for ii, ref := range nf.Inputs {
			var in inputRef
			if ref != Unconnected {
				var err error
				if in, err = parseInputRef(ref); err != nil {
					return nil, errors.WithMessagef(err, "node %q", nf.Name)
				}
			}
			refs[nf.Name] = append(refs[nf.Name], in)

			switch {
			case len(nf.InputDescs) > 0:
				td, err := nf.InputDescs[ii].Desc()
				if err != nil {
					return nil, errors.WithMessagef(err, "node %q input #%d", nf.Name, ii)
				}
				desc.AddInput(td)
			case ref == Unconnected:
				return nil, errors.Errorf("node %q: unconnected input #%d requires input_descs", nf.Name, ii)
			default:
				producer, found := descs[in.producer]
				if !found {
					return nil, errors.Errorf("node %q input #%d: unknown producer %q", nf.Name, ii, in.producer)
				}
				if in.output >= len(producer.Outputs) {
					return nil, errors.Errorf("node %q input #%d: producer %q has only %d outputs",
						nf.Name, ii, in.producer, len(producer.Outputs))
				}
				desc.AddInput(producer.Outputs[in.output].Clone())
			}
		}
		if err := setAttrs(desc, &nf); err != nil {
			return nil, err
		}
		if _, err := g.AddNode(desc); err != nil {
			return nil, err
		}
	}

	// Second phase: edges.
	for _, nf := range gf.Nodes {
		node, _ := g.NodeByName(nf.Name)
		for ii, in := range refs[nf.Name] {
			if in.producer == "" {
				continue
			}
			producer, found := g.NodeByName(in.producer)
			if !found {
				return nil, errors.Errorf("node %q input #%d: unknown producer %q", nf.Name, ii, in.producer)
			}
			err := g.AddEdge(ir.Endpoint{Node: producer.ID(), Index: in.output}, ir.Endpoint{Node: node.ID(), Index: ii})
			if err != nil {
				return nil, errors.WithMessagef(err, "connecting input #%d of %q", ii, nf.Name)
			}
		}
		for _, name := range nf.Control {
			from, found := g.NodeByName(name)
			if !found {
				return nil, errors.Errorf("node %q: unknown control predecessor %q", nf.Name, name)
			}
			if err := g.AddControlEdge(from.ID(), node.ID()); err != nil {
				return nil, errors.WithMessagef(err, "control edge into %q", nf.Name)
			}
		}
	}
	return g, nil
}

func setAttrs(desc *ir.OpDesc, nf *NodeFile) error {
	for key, value := range nf.Attrs {
		switch v := value.(type) {
		case bool:
			desc.SetBool(key, v)
		case int:
			desc.SetInt(key, int64(v))
		case int64:
			desc.SetInt(key, v)
		case float64:
			desc.SetFloat(key, v)
		case string:
			desc.SetString(key, v)
		case []any:
			list := make([]int64, 0, len(v))
			for _, elem := range v {
				ii, ok := elem.(int)
				if !ok {
					return errors.Errorf("node %q attribute %q: only lists of integers are supported, got %v", nf.Name, key, v)
				}
				list = append(list, int64(ii))
			}
			desc.SetInts(key, list)
		default:
			return errors.Errorf("node %q attribute %q: unsupported value %v (%T)", nf.Name, key, value, value)
		}
	}
	for key, value := range nf.FloatAttrs {
		desc.SetFloat(key, value)
	}
	for key, name := range nf.DTypeAttrs {
		dtype, err := shapes.ParseDType(name)
		if err != nil {
			return errors.WithMessagef(err, "node %q attribute %q", nf.Name, key)
		}
		desc.SetDType(key, dtype)
	}
	return nil
}

// File converts g to its YAML representation. Nodes are listed in the graph order.
func File(g *ir.Graph) *GraphFile {
	gf := &GraphFile{Name: g.Name()}
	for _, node := range g.Nodes() {
		desc := node.Desc()
		nf := NodeFile{Name: node.Name(), Type: node.Type()}
		needDescs := false
		for ii := range node.NumInputs() {
			peer, connected := node.InputPeer(ii)
			if !connected {
				nf.Inputs = append(nf.Inputs, Unconnected)
				needDescs = true
				continue
			}
			producer, _ := g.Node(peer.Node)
			nf.Inputs = append(nf.Inputs, producer.Name()+":"+strconv.Itoa(peer.Index))
			if pd, _ := producer.OutputDesc(peer.Index); !pd.Equal(desc.Inputs[ii]) {
				needDescs = true
			}
		}
		if needDescs {
			for _, td := range desc.Inputs {
				nf.InputDescs = append(nf.InputDescs, tensorFile(td))
			}
		}
		for _, td := range desc.Outputs {
			nf.Outputs = append(nf.Outputs, tensorFile(td))
		}
		for _, id := range node.ControlIns() {
			if from, live := g.Node(id); live {
				nf.Control = append(nf.Control, from.Name())
			}
		}
		for _, key := range desc.AttrNames() {
			switch v := desc.Attr(key).(type) {
			case float64:
				if nf.FloatAttrs == nil {
					nf.FloatAttrs = make(map[string]float64)
				}
				nf.FloatAttrs[key] = v
			case dtypes.DType:
				if nf.DTypeAttrs == nil {
					nf.DTypeAttrs = make(map[string]string)
				}
				nf.DTypeAttrs[key] = shapes.DTypeName(v)
			default:
				if nf.Attrs == nil {
					nf.Attrs = make(map[string]any)
				}
				nf.Attrs[key] = v
			}
		}
		gf.Nodes = append(gf.Nodes, nf)
	}
	return gf
}

// Marshal returns the YAML representation of g.
func Marshal(g *ir.Graph) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write the YAML representation of g to w.
func Write(w io.Writer, g *ir.Graph) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File(g)); err != nil {
		return errors.Wrapf(err, "encoding graph %q", g.Name())
	}
	return errors.Wrap(enc.Close(), "encoding graph")
}

// Save writes the YAML representation of g to the file at path.
func Save(g *ir.Graph, path string) error {
	data, err := Marshal(g)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to save graph to %q", path)
	}
	return nil
}
