package grammar

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrPrimitiveExists   = errors.New("primitive already registered")
	ErrPrimitiveNotFound = errors.New("primitive not found")
)

const (
	ConstantSymbolName = "Constant"
	VariableSymbolName = "Variable"
)

// PrimitiveSpec is a named function template that can be instantiated into
// fresh symbols for any grammar.
type PrimitiveSpec struct {
	Name     string
	MinArity int
	MaxArity int
	Inputs   []Type
	Output   Type
	Eval     EvalFunc
}

var primitiveRegistry = struct {
	mu sync.RWMutex
	m  map[string]PrimitiveSpec
}{
	m: make(map[string]PrimitiveSpec),
}

func init() {
	initializeBuiltInPrimitives()
}

func truth(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func initializeBuiltInPrimitives() {
	binary := func(name string, fn func(a, b float64) float64) {
		MustRegisterPrimitive(PrimitiveSpec{Name: name, MinArity: 2, MaxArity: 2, Inputs: []Type{Float}, Output: Float, Eval: func(args []float64) float64 {
			return fn(args[0], args[1])
		}})
	}
	unary := func(name string, fn func(a float64) float64) {
		MustRegisterPrimitive(PrimitiveSpec{Name: name, MinArity: 1, MaxArity: 1, Inputs: []Type{Float}, Output: Float, Eval: func(args []float64) float64 {
			return fn(args[0])
		}})
	}

	binary("add", func(a, b float64) float64 { return a + b })
	binary("sub", func(a, b float64) float64 { return a - b })
	binary("mul", func(a, b float64) float64 { return a * b })
	binary("div", func(a, b float64) float64 {
		if math.Abs(b) < 1e-12 {
			return 1
		}
		return a / b
	})
	unary("sin", math.Sin)
	unary("cos", math.Cos)
	unary("exp", math.Exp)
	unary("log", func(a float64) float64 {
		if a == 0 {
			return 0
		}
		return math.Log(math.Abs(a))
	})
	unary("neg", func(a float64) float64 { return -a })
	unary("abs", math.Abs)
	unary("sqrt", func(a float64) float64 { return math.Sqrt(math.Abs(a)) })
	MustRegisterPrimitive(PrimitiveSpec{Name: "sum", MinArity: 1, MaxArity: 4, Inputs: []Type{Float}, Output: Float, Eval: func(args []float64) float64 {
		total := 0.0
		for _, v := range args {
			total += v
		}
		return total
	}})
	MustRegisterPrimitive(PrimitiveSpec{Name: "gt", MinArity: 2, MaxArity: 2, Inputs: []Type{Float}, Output: Bool, Eval: func(args []float64) float64 {
		return truth(args[0] > args[1])
	}})
	MustRegisterPrimitive(PrimitiveSpec{Name: "lt", MinArity: 2, MaxArity: 2, Inputs: []Type{Float}, Output: Bool, Eval: func(args []float64) float64 {
		return truth(args[0] < args[1])
	}})
	MustRegisterPrimitive(PrimitiveSpec{Name: "and", MinArity: 2, MaxArity: 2, Inputs: []Type{Bool}, Output: Bool, Eval: func(args []float64) float64 {
		return truth(args[0] > 0 && args[1] > 0)
	}})
	MustRegisterPrimitive(PrimitiveSpec{Name: "or", MinArity: 2, MaxArity: 2, Inputs: []Type{Bool}, Output: Bool, Eval: func(args []float64) float64 {
		return truth(args[0] > 0 || args[1] > 0)
	}})
	MustRegisterPrimitive(PrimitiveSpec{Name: "not", MinArity: 1, MaxArity: 1, Inputs: []Type{Bool}, Output: Bool, Eval: func(args []float64) float64 {
		return truth(args[0] <= 0)
	}})
	MustRegisterPrimitive(PrimitiveSpec{Name: "if", MinArity: 3, MaxArity: 3, Inputs: []Type{Bool, Float, Float}, Output: Float, Eval: func(args []float64) float64 {
		if args[0] > 0 {
			return args[1]
		}
		return args[2]
	}})
}

func RegisterPrimitive(spec PrimitiveSpec) error {
	if spec.Name == "" {
		return errors.New("primitive name is required")
	}
	if spec.Eval == nil {
		return errors.New("primitive eval func is required")
	}
	if spec.MinArity < 1 || spec.MaxArity < spec.MinArity {
		return fmt.Errorf("invalid primitive arity for %s: [%d, %d]", spec.Name, spec.MinArity, spec.MaxArity)
	}
	if spec.Output == "" {
		spec.Output = Float
	}

	primitiveRegistry.mu.Lock()
	defer primitiveRegistry.mu.Unlock()

	if _, exists := primitiveRegistry.m[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrPrimitiveExists, spec.Name)
	}
	spec.Inputs = append([]Type(nil), spec.Inputs...)
	primitiveRegistry.m[spec.Name] = spec
	return nil
}

func MustRegisterPrimitive(spec PrimitiveSpec) {
	if err := RegisterPrimitive(spec); err != nil {
		panic(err)
	}
}

func LookupPrimitive(name string) (PrimitiveSpec, error) {
	primitiveRegistry.mu.RLock()
	spec, ok := primitiveRegistry.m[name]
	primitiveRegistry.mu.RUnlock()
	if !ok {
		return PrimitiveSpec{}, fmt.Errorf("%w: %s", ErrPrimitiveNotFound, name)
	}
	return spec, nil
}

func ListPrimitives() []string {
	primitiveRegistry.mu.RLock()
	defer primitiveRegistry.mu.RUnlock()

	names := make([]string, 0, len(primitiveRegistry.m))
	for name := range primitiveRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetPrimitiveRegistryForTests() {
	primitiveRegistry.mu.Lock()
	primitiveRegistry.m = make(map[string]PrimitiveSpec)
	primitiveRegistry.mu.Unlock()
	initializeBuiltInPrimitives()
}

// NewPrimitiveSymbol instantiates a fresh symbol from a registered primitive.
func NewPrimitiveSymbol(name string) (*Symbol, error) {
	spec, err := LookupPrimitive(name)
	if err != nil {
		return nil, err
	}
	inputs := append([]Type(nil), spec.Inputs...)
	if len(inputs) == 0 {
		inputs = []Type{Float}
	}
	return &Symbol{
		Name:             spec.Name,
		Kind:             Function,
		MinArity:         spec.MinArity,
		MaxArity:         spec.MaxArity,
		InputTypes:       inputs,
		OutputType:       spec.Output,
		InitialFrequency: 1,
		Enabled:          true,
		Eval:             spec.Eval,
	}, nil
}

// FromNames assembles a grammar from registered primitives plus optional
// constant and variable terminals. Float-valued functions become start
// symbols and every function may take any type-compatible child, itself
// included.
func FromNames(functions, variables []string, withConstant bool) (*Grammar, error) {
	g := New()
	for _, name := range functions {
		s, err := NewPrimitiveSymbol(name)
		if err != nil {
			return nil, err
		}
		if err := g.AddSymbol(s); err != nil {
			return nil, err
		}
		if s.OutputType == Float {
			if err := g.AddStartSymbol(s.Name); err != nil {
				return nil, err
			}
		}
	}
	if withConstant {
		if err := g.AddSymbol(NewConstant(ConstantSymbolName, -1, 1)); err != nil {
			return nil, err
		}
	}
	if len(variables) > 0 {
		if err := g.AddSymbol(NewVariable(VariableSymbolName, variables...)); err != nil {
			return nil, err
		}
	}
	if len(g.Terminals()) == 0 {
		return nil, errors.New("grammar requires at least one terminal")
	}
	for _, s := range g.Functions() {
		if err := g.AllowAllChildren(s.Name); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Arithmetic returns the classic {add, sub, mul, div} grammar over the given
// variables with an ephemeral constant.
func Arithmetic(variables ...string) *Grammar {
	g, err := FromNames([]string{"add", "sub", "mul", "div"}, variables, true)
	if err != nil {
		panic(err)
	}
	return g
}
