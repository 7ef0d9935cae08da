package grammar

// MinimumLength returns the smallest node count of any tree rooted at s that
// only uses enabled symbols, or Unreachable.
func (g *Grammar) MinimumLength(s *Symbol) int {
	g.ensureMinimums()
	g.mu.RLock()
	defer g.mu.RUnlock()
	if v, ok := g.minLengths[s.Name]; ok && g.symbols[s.Name] == s {
		return v
	}
	return Unreachable
}

// MinimumDepth returns the smallest depth of any tree rooted at s that only
// uses enabled symbols, or Unreachable.
func (g *Grammar) MinimumDepth(s *Symbol) int {
	g.ensureMinimums()
	g.mu.RLock()
	defer g.mu.RUnlock()
	if v, ok := g.minDepths[s.Name]; ok && g.symbols[s.Name] == s {
		return v
	}
	return Unreachable
}

func (g *Grammar) ensureMinimums() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.minLengths != nil {
		return
	}

	lengths := make(map[string]int, len(g.order))
	depths := make(map[string]int, len(g.order))
	for _, name := range g.order {
		lengths[name] = Unreachable
		depths[name] = Unreachable
	}

	for changed := true; changed; {
		changed = false
		for _, name := range g.order {
			s := g.symbols[name]
			if !s.Enabled {
				continue
			}
			length, depth := 1, 1
			for i := 0; i < s.MinArity; i++ {
				bestLength, bestDepth := Unreachable, Unreachable
				for _, childName := range g.order {
					child := g.symbols[childName]
					if !child.Enabled || child.OutputType != s.InputType(i) || !g.ruleAllows(name, childName, i) {
						continue
					}
					bestLength = min(bestLength, lengths[childName])
					bestDepth = min(bestDepth, depths[childName])
				}
				if bestLength >= Unreachable || bestDepth >= Unreachable {
					length, depth = Unreachable, Unreachable
					break
				}
				length = min(length+bestLength, Unreachable)
				depth = max(depth, bestDepth+1)
			}
			if length < lengths[name] {
				lengths[name] = length
				changed = true
			}
			if depth < depths[name] {
				depths[name] = depth
				changed = true
			}
		}
	}

	g.minLengths = lengths
	g.minDepths = depths
}
