package grammar

import (
	"errors"
	"testing"
)

func TestRegisterAndLookupPrimitive(t *testing.T) {
	resetPrimitiveRegistryForTests()
	t.Cleanup(resetPrimitiveRegistryForTests)

	if err := RegisterPrimitive(PrimitiveSpec{Name: "square", MinArity: 1, MaxArity: 1, Eval: func(args []float64) float64 { return args[0] * args[0] }}); err != nil {
		t.Fatalf("register primitive: %v", err)
	}
	s, err := NewPrimitiveSymbol("square")
	if err != nil {
		t.Fatalf("new primitive symbol: %v", err)
	}
	if got := s.Eval([]float64{3}); got != 9 {
		t.Fatalf("unexpected eval: got=%f want=9", got)
	}
	if s.OutputType != Float {
		t.Fatalf("expected default float output, got %s", s.OutputType)
	}
}

func TestRegisterPrimitiveDuplicate(t *testing.T) {
	resetPrimitiveRegistryForTests()
	t.Cleanup(resetPrimitiveRegistryForTests)

	err := RegisterPrimitive(PrimitiveSpec{Name: "add", MinArity: 2, MaxArity: 2, Eval: func(args []float64) float64 { return 0 }})
	if !errors.Is(err, ErrPrimitiveExists) {
		t.Fatalf("expected ErrPrimitiveExists, got %v", err)
	}
	if _, err := LookupPrimitive("missing"); !errors.Is(err, ErrPrimitiveNotFound) {
		t.Fatalf("expected ErrPrimitiveNotFound, got %v", err)
	}
}

func TestBuiltInPrimitivesAreProtected(t *testing.T) {
	div, err := NewPrimitiveSymbol("div")
	if err != nil {
		t.Fatalf("div: %v", err)
	}
	if got := div.Eval([]float64{5, 0}); got != 1 {
		t.Fatalf("protected division: got %f", got)
	}
	log, err := NewPrimitiveSymbol("log")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if got := log.Eval([]float64{0}); got != 0 {
		t.Fatalf("protected log: got %f", got)
	}
	names := ListPrimitives()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("expected sorted primitive names: %v", names)
		}
	}
}

func TestArithmeticGrammarAllowsRecursion(t *testing.T) {
	g := Arithmetic("X", "Y")
	add, _ := g.Symbol("add")
	if !g.IsAllowedChild(add, add, 0) {
		t.Fatal("expected recursion in the arithmetic grammar")
	}
	if !g.IsStartSymbol(add) {
		t.Fatal("expected functions to be start symbols")
	}
	v, _ := g.Symbol(VariableSymbolName)
	if len(v.Variables) != 2 {
		t.Fatalf("unexpected variables: %v", v.Variables)
	}
}
