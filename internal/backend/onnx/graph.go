package onnx

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/neuropod-go/neuropod/internal/parallel"
	"github.com/neuropod-go/neuropod/internal/tensor"
)

// ErrUnsupportedOp is returned for nodes whose operator has no handler.
var ErrUnsupportedOp = errors.New("unsupported operator")

// Graph is a compiled ONNX graph. Nodes are grouped into levels: every node of a
// level only consumes graph inputs, constants and outputs of earlier levels, so the
// nodes of one level can run concurrently.
//
// A Graph is immutable after Compile and safe for concurrent Run calls.
type Graph struct {
	Inputs  []tensor.Spec // Graph inputs that are not initializers.
	Outputs []tensor.Spec

	nodes       []NodeProto
	levels      [][]int        // Node indices per level.
	producer    map[string]int // Value name to producing node index.
	consts      map[string]tensor.Tensor
	unsupported []string
	registry    *Registry
}

// Compile validates the graph of m, evaluates its initializers and Constant nodes
// and orders the remaining nodes into levels. Unsupported operators fail the
// compilation in strict mode and are reported by Unsupported otherwise.
func Compile(m *ModelProto, reg *Registry, strict bool) (*Graph, error) {
	if m.Graph == nil {
		return nil, errors.New("model has no graph")
	}
	if reg == nil {
		reg = NewRegistry()
	}
	g := &Graph{
		producer: make(map[string]int),
		consts:   make(map[string]tensor.Tensor),
		registry: reg,
	}
	ok := false
	defer func() {
		if !ok {
			g.Close()
		}
	}()

	for i := range m.Graph.Initializers {
		ini := &m.Graph.Initializers[i]
		t, err := TensorFromProto(ini.Name, ini)
		if err != nil {
			return nil, fmt.Errorf("initializer %q: %w", ini.Name, err)
		}
		if old, dup := g.consts[ini.Name]; dup {
			old.Release()
		}
		g.consts[ini.Name] = t
	}
	for i := range m.Graph.Inputs {
		vi := &m.Graph.Inputs[i]
		if _, isConst := g.consts[vi.Name]; isConst {
			continue
		}
		spec, err := specOf(vi)
		if err != nil {
			return nil, fmt.Errorf("graph input: %w", err)
		}
		g.Inputs = append(g.Inputs, spec)
	}
	for i := range m.Graph.Outputs {
		spec, err := specOf(&m.Graph.Outputs[i])
		if err != nil {
			return nil, fmt.Errorf("graph output: %w", err)
		}
		g.Outputs = append(g.Outputs, spec)
	}

	for i := range m.Graph.Nodes {
		node := &m.Graph.Nodes[i]
		if node.OpType == "Constant" && node.Domain == "" {
			if err := g.fold(node); err != nil {
				return nil, err
			}
			continue
		}
		if _, known := reg.Get(node.OpType); !known || (node.Domain != "" && node.Domain != "ai.onnx") {
			if !slices.Contains(g.unsupported, node.OpType) {
				g.unsupported = append(g.unsupported, node.OpType)
			}
		}
		g.nodes = append(g.nodes, *node)
	}
	if len(g.unsupported) > 0 {
		if strict {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedOp, g.unsupported)
		}
		klog.Warningf("Model uses unsupported operators %v; inference reaching them will fail", g.unsupported)
	}

	if err := g.schedule(); err != nil {
		return nil, err
	}
	for _, out := range g.Outputs {
		if !g.defined(out.Name) {
			return nil, fmt.Errorf("graph output %q is never produced", out.Name)
		}
	}
	ok = true
	return g, nil
}

// fold evaluates a Constant node at compile time.
func (g *Graph) fold(node *NodeProto) error {
	outs, err := handleConstant(nil, node, nil)
	if err != nil {
		return fmt.Errorf("node %q: %w", node.Name, err)
	}
	for _, t := range outs {
		g.consts[t.Name()] = t
	}
	return nil
}

func (g *Graph) defined(name string) bool {
	if _, ok := g.consts[name]; ok {
		return true
	}
	if _, ok := tensor.FindSpec(g.Inputs, name); ok {
		return true
	}
	_, ok := g.producer[name]
	return ok
}

// schedule assigns every node to the level after the latest of its producers.
func (g *Graph) schedule() error {
	for i := range g.nodes {
		for _, out := range g.nodes[i].Outputs {
			if out == "" {
				continue
			}
			if prev, dup := g.producer[out]; dup {
				return fmt.Errorf("value %q is produced by nodes %q and %q", out, g.nodes[prev].Name, g.nodes[i].Name)
			}
			if g.defined(out) {
				return fmt.Errorf("node %q overwrites input or constant %q", g.nodes[i].Name, out)
			}
			g.producer[out] = i
		}
	}

	// Kahn's algorithm over node dependencies.
	level := make([]int, len(g.nodes))
	pending := make([]int, len(g.nodes))
	consumers := make([][]int, len(g.nodes))
	for i := range g.nodes {
		for _, in := range g.nodes[i].Inputs {
			if in == "" {
				continue
			}
			p, ok := g.producer[in]
			if !ok {
				if !g.defined(in) {
					return fmt.Errorf("node %q reads undefined value %q", g.nodes[i].Name, in)
				}
				continue
			}
			pending[i]++
			consumers[p] = append(consumers[p], i)
		}
	}
	var ready []int
	for i, n := range pending {
		if n == 0 {
			ready = append(ready, i)
		}
	}
	done := 0
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		done++
		for len(g.levels) <= level[i] {
			g.levels = append(g.levels, nil)
		}
		g.levels[level[i]] = append(g.levels[level[i]], i)
		for _, c := range consumers[i] {
			level[c] = max(level[c], level[i]+1)
			if pending[c]--; pending[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if done != len(g.nodes) {
		return errors.New("graph contains a cycle")
	}
	return nil
}

// Unsupported returns the operator types the graph uses but the registry lacks.
func (g *Graph) Unsupported() []string {
	return slices.Clone(g.unsupported)
}

// NumNodes returns the number of nodes executed at run time.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumLevels returns the number of sequential execution steps.
func (g *Graph) NumLevels() int { return len(g.levels) }

// required marks the nodes needed to produce outputs.
func (g *Graph) required(outputs []string) []bool {
	need := make([]bool, len(g.nodes))
	stack := make([]string, 0, len(outputs))
	stack = append(stack, outputs...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		i, ok := g.producer[name]
		if !ok || need[i] {
			continue
		}
		need[i] = true
		stack = append(stack, g.nodes[i].Inputs...)
	}
	return need
}

// uses counts the reads of each computed value by the nodes in need. A requested
// output counts as one extra read so it survives until Run returns.
func (g *Graph) uses(need []bool, outputs []string) map[string]int {
	uses := make(map[string]int)
	for i, n := range need {
		if !n {
			continue
		}
		for _, in := range g.nodes[i].Inputs {
			if _, ok := g.producer[in]; ok {
				uses[in]++
			}
		}
	}
	for _, name := range outputs {
		if _, ok := g.producer[name]; ok {
			uses[name]++
		}
	}
	return uses
}

// Run evaluates the values named by outputs. inputs must hold every graph input;
// Run neither releases nor modifies them. Intermediate values are released once
// their last reader has run. Each returned tensor is a new handle named after its
// output, owned by the caller.
func (g *Graph) Run(ctx context.Context, inputs map[string]tensor.Tensor, outputs []string, cfg parallel.Config) (map[string]tensor.Tensor, error) {
	for _, name := range outputs {
		if !g.defined(name) {
			return nil, fmt.Errorf("%w: graph has no value %q", tensor.ErrKeyNotFound, name)
		}
	}
	for _, spec := range g.Inputs {
		if _, ok := inputs[spec.Name]; !ok {
			return nil, fmt.Errorf("graph input %q not provided", spec.Name)
		}
	}

	// values holds borrowed inputs and constants; owned holds the computed values
	// still waiting for a reader.
	values := make(map[string]tensor.Tensor, len(inputs)+len(g.consts)+len(g.nodes))
	for name, t := range g.consts {
		values[name] = t
	}
	for _, spec := range g.Inputs {
		values[spec.Name] = inputs[spec.Name]
	}
	owned := make(map[string]tensor.Tensor)
	defer func() {
		for _, t := range owned {
			t.Release()
		}
	}()

	need := g.required(outputs)
	uses := g.uses(need, outputs)
	opCtx := &Context{Parallel: cfg}
	for _, level := range g.levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var run []int
		for _, i := range level {
			if need[i] {
				run = append(run, i)
			}
		}
		results, err := g.runLevel(ctx, opCtx, run, values)
		for j, i := range run {
			for k, t := range results[j] {
				name := g.nodes[i].Outputs[k]
				if name == "" || uses[name] == 0 {
					t.Release()
					continue
				}
				owned[name] = t
				values[name] = t
			}
		}
		if err != nil {
			return nil, err
		}
		// Drop intermediates whose last reader has run.
		for _, i := range run {
			for _, in := range g.nodes[i].Inputs {
				t, ok := owned[in]
				if !ok {
					continue
				}
				if uses[in]--; uses[in] == 0 {
					t.Release()
					delete(owned, in)
					delete(values, in)
				}
			}
		}
	}

	out := make(map[string]tensor.Tensor, len(outputs))
	for _, name := range outputs {
		if _, dup := out[name]; dup {
			continue
		}
		t, err := tensor.View(values[name], name, values[name].Dims())
		if err != nil {
			for _, v := range out {
				v.Release()
			}
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// runLevel executes the nodes of one level. A single node runs inline; more run on
// up to ctx.Parallel.NumWorkers goroutines.
func (g *Graph) runLevel(ctx context.Context, opCtx *Context, run []int, values map[string]tensor.Tensor) ([][]tensor.Tensor, error) {
	results := make([][]tensor.Tensor, len(run))
	if len(run) == 1 {
		outs, err := g.exec(opCtx, run[0], values)
		results[0] = outs
		return results, err
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(opCtx.Parallel.NumWorkers, 1))
	for j, i := range run {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			outs, err := g.exec(opCtx, i, values)
			results[j] = outs
			return err
		})
	}
	return results, eg.Wait()
}

// exec runs node i. values is only read, so nodes of one level may run concurrently.
func (g *Graph) exec(ctx *Context, i int, values map[string]tensor.Tensor) ([]tensor.Tensor, error) {
	node := &g.nodes[i]
	ins := make([]tensor.Tensor, len(node.Inputs))
	for k, name := range node.Inputs {
		if name != "" {
			ins[k] = values[name]
		}
	}
	outs, err := g.registry.Execute(ctx, node, ins)
	if err != nil {
		for _, t := range outs {
			t.Release()
		}
		return nil, fmt.Errorf("node %q (%s): %w", node.Name, node.OpType, err)
	}
	if len(outs) > len(node.Outputs) {
		for _, t := range outs {
			t.Release()
		}
		return nil, fmt.Errorf("node %q (%s) produced %d outputs, declared %d",
			node.Name, node.OpType, len(outs), len(node.Outputs))
	}
	return outs, nil
}

// Close releases the constants. The graph must not be run afterwards.
func (g *Graph) Close() {
	for name, t := range g.consts {
		t.Release()
		delete(g.consts, name)
	}
}
