package grammar

import "fmt"

// Type names the value domain flowing along a parent/child edge.
type Type string

const (
	Float Type = "float"
	Bool  Type = "bool"
)

// Kind is the closed set of node kinds a symbol can describe.
type Kind int

const (
	Function Kind = iota
	Constant
	Variable
)

func (k Kind) String() string {
	switch k {
	case Function:
		return "function"
	case Constant:
		return "constant"
	case Variable:
		return "variable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// EvalFunc computes a function symbol's value from its evaluated arguments.
type EvalFunc func(args []float64) float64

// Symbol describes one operation kind. Nodes share symbols by pointer and never
// modify them; only grammar configuration may toggle Enabled or
// InitialFrequency, and never while operators run.
type Symbol struct {
	Name             string
	Kind             Kind
	MinArity         int
	MaxArity         int
	InputTypes       []Type
	OutputType       Type
	InitialFrequency float64
	Enabled          bool
	Eval             EvalFunc

	// Constant symbols draw initial values uniformly from [MinValue, MaxValue].
	MinValue float64
	MaxValue float64

	// Variable symbols bind one of these names per node.
	Variables []string
}

// NewFunction returns an enabled float-typed function symbol with fixed arity.
func NewFunction(name string, arity int, eval EvalFunc) *Symbol {
	return NewVariadicFunction(name, arity, arity, eval)
}

// NewVariadicFunction returns an enabled float-typed function symbol accepting
// between minArity and maxArity arguments.
func NewVariadicFunction(name string, minArity, maxArity int, eval EvalFunc) *Symbol {
	return &Symbol{
		Name:             name,
		Kind:             Function,
		MinArity:         minArity,
		MaxArity:         maxArity,
		InputTypes:       []Type{Float},
		OutputType:       Float,
		InitialFrequency: 1,
		Enabled:          true,
		Eval:             eval,
	}
}

// NewTypedFunction returns a fixed-arity function symbol whose argument count
// equals len(inputs).
func NewTypedFunction(name string, inputs []Type, output Type, eval EvalFunc) *Symbol {
	return &Symbol{
		Name:             name,
		Kind:             Function,
		MinArity:         len(inputs),
		MaxArity:         len(inputs),
		InputTypes:       append([]Type(nil), inputs...),
		OutputType:       output,
		InitialFrequency: 1,
		Enabled:          true,
		Eval:             eval,
	}
}

// NewConstant returns a float constant terminal initialised in [minValue, maxValue].
func NewConstant(name string, minValue, maxValue float64) *Symbol {
	return &Symbol{
		Name:             name,
		Kind:             Constant,
		OutputType:       Float,
		InitialFrequency: 1,
		Enabled:          true,
		MinValue:         minValue,
		MaxValue:         maxValue,
	}
}

// NewVariable returns a float variable terminal that may bind any of names.
func NewVariable(name string, names ...string) *Symbol {
	return &Symbol{
		Name:             name,
		Kind:             Variable,
		OutputType:       Float,
		InitialFrequency: 1,
		Enabled:          true,
		Variables:        append([]string(nil), names...),
	}
}

// IsTerminal reports whether nodes of this symbol never hold children.
func (s *Symbol) IsTerminal() bool {
	return s.MaxArity == 0
}

// InputType returns the declared type of argument position index. The last
// declared type repeats for variadic tails; Float is assumed when nothing is
// declared.
func (s *Symbol) InputType(index int) Type {
	if len(s.InputTypes) == 0 {
		return Float
	}
	if index < len(s.InputTypes) {
		return s.InputTypes[index]
	}
	return s.InputTypes[len(s.InputTypes)-1]
}

// AcceptsArity reports whether n children satisfy the symbol's arity bounds.
func (s *Symbol) AcceptsArity(n int) bool {
	return n >= s.MinArity && n <= s.MaxArity
}

func (s *Symbol) String() string {
	return s.Name
}

func (s *Symbol) validate() error {
	if s == nil {
		return fmt.Errorf("symbol is required")
	}
	if s.Name == "" {
		return fmt.Errorf("symbol name is required")
	}
	if s.MinArity < 0 || s.MaxArity < s.MinArity {
		return fmt.Errorf("invalid arity bounds for %s: [%d, %d]", s.Name, s.MinArity, s.MaxArity)
	}
	if s.Kind == Function && s.MaxArity > 0 && s.Eval == nil {
		return fmt.Errorf("function symbol %s requires an eval func", s.Name)
	}
	if s.Kind != Function && s.MaxArity != 0 {
		return fmt.Errorf("%s symbol %s must be a terminal", s.Kind, s.Name)
	}
	if s.Kind == Variable && len(s.Variables) == 0 {
		return fmt.Errorf("variable symbol %s requires at least one variable name", s.Name)
	}
	if s.InitialFrequency < 0 {
		return fmt.Errorf("initial frequency for %s must be >= 0", s.Name)
	}
	if s.OutputType == "" {
		s.OutputType = Float
	}
	return nil
}
