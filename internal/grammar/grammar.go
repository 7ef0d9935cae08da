package grammar

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	ErrDuplicateSymbolName = errors.New("duplicate symbol name")
	ErrSymbolNotFound      = errors.New("symbol not found")
	ErrInvalidBounds       = errors.New("invalid grammar bounds")
)

const (
	DefaultMinLength = 1
	DefaultMaxLength = 50
	DefaultMinDepth  = 1
	DefaultMaxDepth  = 10
)

// Unreachable is reported by MinimumLength and MinimumDepth for symbols that
// cannot be completed into a finite tree under the current rules.
const Unreachable = math.MaxInt32

type ChangeKind string

const (
	SymbolAdded          ChangeKind = "symbol_added"
	SymbolRemoved        ChangeKind = "symbol_removed"
	SymbolToggled        ChangeKind = "symbol_toggled"
	StartSymbolsChanged  ChangeKind = "start_symbols_changed"
	AllowedChildrenEdits ChangeKind = "allowed_children_changed"
	BoundsChanged        ChangeKind = "bounds_changed"
)

// ChangeEvent is delivered to subscribers after a configuration change.
type ChangeEvent struct {
	Kind   ChangeKind
	Symbol string
}

type childRule struct {
	any     map[string]struct{}
	byIndex map[int]map[string]struct{}
}

// Grammar is the symbol registry together with parent/child legality rules and
// global size bounds. Configuration methods must not run concurrently with
// operators that read the grammar.
type Grammar struct {
	mu sync.RWMutex

	symbols map[string]*Symbol
	order   []string
	start   map[string]struct{}
	rules   map[string]*childRule

	minLength int
	maxLength int
	minDepth  int
	maxDepth  int

	minLengths map[string]int
	minDepths  map[string]int

	listeners []func(ChangeEvent)
}

func New() *Grammar {
	return &Grammar{
		symbols:   make(map[string]*Symbol),
		start:     make(map[string]struct{}),
		rules:     make(map[string]*childRule),
		minLength: DefaultMinLength,
		maxLength: DefaultMaxLength,
		minDepth:  DefaultMinDepth,
		maxDepth:  DefaultMaxDepth,
	}
}

// Subscribe registers fn to receive change notifications.
func (g *Grammar) Subscribe(fn func(ChangeEvent)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

func (g *Grammar) notify(event ChangeEvent) {
	g.mu.RLock()
	listeners := append([]func(ChangeEvent){}, g.listeners...)
	g.mu.RUnlock()
	for _, fn := range listeners {
		fn(event)
	}
}

// invalidate drops derived tables; callers hold the write lock.
func (g *Grammar) invalidate() {
	g.minLengths = nil
	g.minDepths = nil
}

// AddSymbol registers s. Zero-arity symbols become start symbols automatically.
func (g *Grammar) AddSymbol(s *Symbol) error {
	if err := s.validate(); err != nil {
		return err
	}
	g.mu.Lock()
	if _, exists := g.symbols[s.Name]; exists {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateSymbolName, s.Name)
	}
	g.symbols[s.Name] = s
	g.order = append(g.order, s.Name)
	if s.MinArity == 0 {
		g.start[s.Name] = struct{}{}
	}
	g.invalidate()
	g.mu.Unlock()

	g.notify(ChangeEvent{Kind: SymbolAdded, Symbol: s.Name})
	return nil
}

// MustAddSymbol is AddSymbol for statically known grammars.
func (g *Grammar) MustAddSymbol(s *Symbol) {
	if err := g.AddSymbol(s); err != nil {
		panic(err)
	}
}

// RemoveSymbol unregisters the named symbol and scrubs it from the start set
// and every allowed-children table.
func (g *Grammar) RemoveSymbol(name string) error {
	g.mu.Lock()
	if _, ok := g.symbols[name]; !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}
	delete(g.symbols, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	delete(g.start, name)
	delete(g.rules, name)
	for _, rule := range g.rules {
		delete(rule.any, name)
		for _, set := range rule.byIndex {
			delete(set, name)
		}
	}
	g.invalidate()
	g.mu.Unlock()

	g.notify(ChangeEvent{Kind: SymbolRemoved, Symbol: name})
	return nil
}

// Symbol looks a registered symbol up by name.
func (g *Grammar) Symbol(name string) (*Symbol, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.symbols[name]
	return s, ok
}

// Symbols returns every registered symbol in registration order.
func (g *Grammar) Symbols() []*Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Symbol, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.symbols[name])
	}
	return out
}

// Terminals returns registered zero-arity symbols in registration order.
func (g *Grammar) Terminals() []*Symbol {
	out := make([]*Symbol, 0)
	for _, s := range g.Symbols() {
		if s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// Functions returns registered symbols that can hold children.
func (g *Grammar) Functions() []*Symbol {
	out := make([]*Symbol, 0)
	for _, s := range g.Symbols() {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// SetEnabled toggles whether random generation may pick the named symbol.
func (g *Grammar) SetEnabled(name string, enabled bool) error {
	g.mu.Lock()
	s, ok := g.symbols[name]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}
	s.Enabled = enabled
	g.invalidate()
	g.mu.Unlock()

	g.notify(ChangeEvent{Kind: SymbolToggled, Symbol: name})
	return nil
}

// AddStartSymbol marks the named symbol as legal at a tree root.
func (g *Grammar) AddStartSymbol(name string) error {
	g.mu.Lock()
	if _, ok := g.symbols[name]; !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}
	g.start[name] = struct{}{}
	g.mu.Unlock()

	g.notify(ChangeEvent{Kind: StartSymbolsChanged, Symbol: name})
	return nil
}

// RemoveStartSymbol drops the named symbol from the root set.
func (g *Grammar) RemoveStartSymbol(name string) {
	g.mu.Lock()
	delete(g.start, name)
	g.mu.Unlock()

	g.notify(ChangeEvent{Kind: StartSymbolsChanged, Symbol: name})
}

// StartSymbols returns the symbols legal at a tree root in registration order.
func (g *Grammar) StartSymbols() []*Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Symbol, 0, len(g.start))
	for _, name := range g.order {
		if _, ok := g.start[name]; ok {
			out = append(out, g.symbols[name])
		}
	}
	return out
}

// IsStartSymbol reports whether s may sit at a tree root.
func (g *Grammar) IsStartSymbol(s *Symbol) bool {
	if s == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.start[s.Name]
	return ok && g.symbols[s.Name] == s
}

// SetAllowedChildren restricts the children of parent at every argument
// position to the named symbols.
func (g *Grammar) SetAllowedChildren(parent string, children ...string) error {
	return g.setRule(parent, -1, children)
}

// SetAllowedChildrenAt restricts the children of parent at one argument position.
func (g *Grammar) SetAllowedChildrenAt(parent string, index int, children ...string) error {
	if index < 0 {
		return fmt.Errorf("argument index must be >= 0")
	}
	return g.setRule(parent, index, children)
}

// AllowChild adds child to the allowed set of parent at every position. An
// unconfigured parent is first materialised with the default policy.
func (g *Grammar) AllowChild(parent, child string) error {
	g.mu.Lock()
	if _, ok := g.symbols[parent]; !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, parent)
	}
	if _, ok := g.symbols[child]; !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, child)
	}
	rule, ok := g.rules[parent]
	if !ok {
		rule = &childRule{any: make(map[string]struct{})}
		for _, name := range g.order {
			if name != parent {
				rule.any[name] = struct{}{}
			}
		}
		g.rules[parent] = rule
	}
	rule.any[child] = struct{}{}
	g.invalidate()
	g.mu.Unlock()

	g.notify(ChangeEvent{Kind: AllowedChildrenEdits, Symbol: parent})
	return nil
}

// AllowAllChildren lets parent take any registered symbol, itself included.
func (g *Grammar) AllowAllChildren(parent string) error {
	names := make([]string, 0)
	for _, s := range g.Symbols() {
		names = append(names, s.Name)
	}
	return g.SetAllowedChildren(parent, names...)
}

func (g *Grammar) setRule(parent string, index int, children []string) error {
	g.mu.Lock()
	if _, ok := g.symbols[parent]; !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, parent)
	}
	set := make(map[string]struct{}, len(children))
	for _, child := range children {
		if _, ok := g.symbols[child]; !ok {
			g.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrSymbolNotFound, child)
		}
		set[child] = struct{}{}
	}
	rule, ok := g.rules[parent]
	if !ok {
		rule = &childRule{}
		g.rules[parent] = rule
	}
	if index < 0 {
		rule.any = set
	} else {
		if rule.byIndex == nil {
			rule.byIndex = make(map[int]map[string]struct{})
		}
		rule.byIndex[index] = set
	}
	g.invalidate()
	g.mu.Unlock()

	g.notify(ChangeEvent{Kind: AllowedChildrenEdits, Symbol: parent})
	return nil
}

// ruleAllows reports table membership only; callers hold a read lock.
func (g *Grammar) ruleAllows(parent, child string, index int) bool {
	rule, ok := g.rules[parent]
	if !ok {
		return parent != child
	}
	if set, ok := rule.byIndex[index]; ok {
		_, allowed := set[child]
		return allowed
	}
	if rule.any == nil {
		return parent != child
	}
	_, allowed := rule.any[child]
	return allowed
}

// IsAllowedChild reports whether child may sit at argument position index of
// parent: the position must exist, the tables must allow it and the child's
// output type must match the declared input type.
func (g *Grammar) IsAllowedChild(parent, child *Symbol, index int) bool {
	if parent == nil || child == nil || index < 0 || index >= parent.MaxArity {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.symbols[parent.Name] != parent || g.symbols[child.Name] != child {
		return false
	}
	if child.OutputType != parent.InputType(index) {
		return false
	}
	return g.ruleAllows(parent.Name, child.Name, index)
}

// AllowedChildren returns every symbol legal at position index of parent, in
// registration order. Disabled symbols are included; see Enabled.
func (g *Grammar) AllowedChildren(parent *Symbol, index int) []*Symbol {
	out := make([]*Symbol, 0)
	for _, s := range g.Symbols() {
		if g.IsAllowedChild(parent, s, index) {
			out = append(out, s)
		}
	}
	return out
}

// Enabled filters symbols down to the enabled ones, keeping order.
func Enabled(symbols []*Symbol) []*Symbol {
	out := make([]*Symbol, 0, len(symbols))
	for _, s := range symbols {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// SetBounds replaces the global expression length and depth bounds.
func (g *Grammar) SetBounds(minLength, maxLength, minDepth, maxDepth int) error {
	if minLength < 1 || maxLength < minLength {
		return fmt.Errorf("%w: length [%d, %d]", ErrInvalidBounds, minLength, maxLength)
	}
	if minDepth < 1 || maxDepth < minDepth {
		return fmt.Errorf("%w: depth [%d, %d]", ErrInvalidBounds, minDepth, maxDepth)
	}
	g.mu.Lock()
	g.minLength, g.maxLength = minLength, maxLength
	g.minDepth, g.maxDepth = minDepth, maxDepth
	g.mu.Unlock()

	g.notify(ChangeEvent{Kind: BoundsChanged})
	return nil
}

func (g *Grammar) MinLength() int { g.mu.RLock(); defer g.mu.RUnlock(); return g.minLength }
func (g *Grammar) MaxLength() int { g.mu.RLock(); defer g.mu.RUnlock(); return g.maxLength }
func (g *Grammar) MinDepth() int  { g.mu.RLock(); defer g.mu.RUnlock(); return g.minDepth }
func (g *Grammar) MaxDepth() int  { g.mu.RLock(); defer g.mu.RUnlock(); return g.maxDepth }
