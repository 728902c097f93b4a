package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/wastenet/internal/tensor"
)

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input. Backward walks the
// chain in reverse. Modules added with a non-empty name contribute their
// State under "name.key" to the container's state dict.
//
// Example:
//
//	model := nn.NewSequential().
//	    Add("fc1", nn.NewLinear(64, 32, rng)).
//	    Add("", nn.NewReLU()).
//	    Add("fc2", nn.NewLinear(32, 9, rng))
//
//	output := model.Forward(input)
type Sequential struct {
	names   []string
	modules []Module
}

// NewSequential creates an empty Sequential container.
func NewSequential() *Sequential {
	return &Sequential{}
}

// Add appends a module to the sequence and returns the container.
func (s *Sequential) Add(name string, m Module) *Sequential {
	s.names = append(s.names, name)
	s.modules = append(s.modules, m)
	return s
}

// Forward applies all modules in sequence.
func (s *Sequential) Forward(input *tensor.Tensor) *tensor.Tensor {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Backward propagates gradOutput through the modules in reverse order.
func (s *Sequential) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	grad := gradOutput
	for i := len(s.modules) - 1; i >= 0; i-- {
		grad = s.modules[i].Backward(grad)
	}
	return grad
}

// Parameters returns all trainable parameters from all modules.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// SetTraining propagates the mode to every module that cares.
func (s *Sequential) SetTraining(training bool) {
	for _, module := range s.modules {
		if ms, ok := module.(ModeSetter); ok {
			ms.SetTraining(training)
		}
	}
}

// State returns the live tensors of all named stateful modules.
func (s *Sequential) State() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for i, module := range s.modules {
		st, ok := module.(Stateful)
		if !ok || s.names[i] == "" {
			continue
		}
		for key, t := range st.State() {
			state[s.names[i]+"."+key] = t
		}
	}
	return state
}

// Modules returns the contained modules in order.
func (s *Sequential) Modules() []Module {
	return s.modules
}

// Len returns the number of modules.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// String returns a string representation of the container.
func (s *Sequential) String() string {
	var b strings.Builder
	b.WriteString("Sequential(\n")
	for i, module := range s.modules {
		name := s.names[i]
		if name == "" {
			name = fmt.Sprint(i)
		}
		fmt.Fprintf(&b, "  (%s): %v\n", name, module)
	}
	b.WriteString(")")
	return b.String()
}

// StateDict returns deep copies of every tensor in st.State().
func StateDict(st Stateful) map[string]*tensor.Tensor {
	live := st.State()
	out := make(map[string]*tensor.Tensor, len(live))
	for name, t := range live {
		out[name] = t.Clone()
	}
	return out
}

// LoadStateDict copies src into st's live tensors.
//
// Every key of st must be present in src with an equal shape, and src may
// not carry unknown keys.
func LoadStateDict(st Stateful, src map[string]*tensor.Tensor) error {
	live := st.State()

	var missing, unexpected []string
	for name := range live {
		if _, ok := src[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range src {
		if _, ok := live[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(missing)
		sort.Strings(unexpected)
		return fmt.Errorf("state dict mismatch: missing keys %v, unexpected keys %v", missing, unexpected)
	}

	for name, dst := range live {
		if err := dst.CopyFrom(src[name]); err != nil {
			return fmt.Errorf("load %q: %w", name, err)
		}
	}
	return nil
}
