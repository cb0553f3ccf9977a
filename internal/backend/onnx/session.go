package onnx

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	backendOnce sync.Once
	backendInst backends.Backend
)

// sharedBackend initializes the accelerator backend once for the whole
// process. Every session compiles its graphs against the same backend.
func sharedBackend() backends.Backend {
	backendOnce.Do(func() {
		backendInst = backends.MustNew()
	})
	return backendInst
}

// session wraps one ONNX graph together with its weights, loaded into a
// GoMLX context so the backend can compile and run it.
type session struct {
	name      string
	model     *onnx.Model
	octx      *context.Context
	inputDims map[string][]int
	outputs   []string
}

func newSession(path, name string) (*session, error) {
	m, err := onnx.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s graph: %w", name, err)
	}
	octx := context.New()
	if err := m.VariablesToContext(octx); err != nil {
		m.Close()
		return nil, fmt.Errorf("load %s weights: %w", name, err)
	}

	inNames, inShapes := m.Inputs()
	dims := make(map[string][]int, len(inNames))
	for i, n := range inNames {
		dims[n] = inShapes[i].Dimensions
	}
	outNames, _ := m.Outputs()

	return &session{
		name:      name,
		model:     m,
		octx:      octx,
		inputDims: dims,
		outputs:   outNames,
	}, nil
}

func (s *session) hasInput(name string) bool {
	_, ok := s.inputDims[name]
	return ok
}

// kvInputs lists the past-key-value input names in declaration order.
func (s *session) kvInputs() []string {
	names := make([]string, 0)
	for name := range s.inputDims {
		if strings.HasPrefix(name, "past_key_values") {
			names = append(names, name)
		}
	}
	return names
}

// run executes the graph with one tensor fed as the graph argument and
// every other input bound as a constant. Constants change between calls,
// so each call compiles against the current bindings. Outputs come back
// keyed by their declared names.
func (s *session) run(argName string, arg *tensors.Tensor, consts map[string]any) (map[string]*tensors.Tensor, error) {
	if len(consts) > 0 {
		s.model.WithInputsAsConstants(consts)
	}
	exec, err := context.NewExec(sharedBackend(), s.octx.Reuse(),
		func(ctx *context.Context, in *graph.Node) []*graph.Node {
			return s.model.CallGraph(ctx, in.Graph(), map[string]*graph.Node{argName: in})
		})
	if err != nil {
		return nil, fmt.Errorf("%s: compile: %w", s.name, err)
	}
	outs, err := exec.Exec(arg)
	if err != nil {
		return nil, fmt.Errorf("%s: execute: %w", s.name, err)
	}
	if len(outs) != len(s.outputs) {
		return nil, fmt.Errorf("%s: %d outputs, declared %d", s.name, len(outs), len(s.outputs))
	}
	byName := make(map[string]*tensors.Tensor, len(outs))
	for i, t := range outs {
		byName[s.outputs[i]] = t
	}
	return byName, nil
}

func (s *session) close() {
	if s != nil && s.model != nil {
		s.model.Close()
	}
}
