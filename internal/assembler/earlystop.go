package assembler

import "github.com/Aman-CERP/ctxengine/internal/store"

// satisfied reports whether the items packed so far already answer a
// query of the given class, so the Assembler can stop before spending
// the rest of the budget on marginal candidates. Each heuristic looks
// only at what has actually been included, not at what remains
// unpacked.
func satisfied(class QueryClass, included []*packedItem, edges []*store.Edge) (bool, string) {
	switch class {
	case ClassSymbol:
		return symbolSatisfied(included, edges)
	case ClassConfig:
		return configSatisfied(included, edges)
	case ClassRoute:
		return routeSatisfied(included, edges)
	default:
		return false, ""
	}
}

// symbolSatisfied: the symbol's own definition is packed at
// Definition level or deeper, and either a caller/usage or its test is
// also present.
func symbolSatisfied(included []*packedItem, edges []*store.Edge) (bool, string) {
	var haveDefinition bool
	var haveUsageOrTest bool
	for _, it := range included {
		if it.candidate.IsSeed && it.level >= LevelDefinition {
			haveDefinition = true
		}
		if it.candidate.TestSpan != nil {
			haveUsageOrTest = true
		}
		if !it.candidate.IsSeed && it.candidate.BestIncomingConfidence > 0 {
			haveUsageOrTest = true
		}
	}
	if haveDefinition && haveUsageOrTest {
		return true, "symbol definition and usage both packed"
	}
	return false, ""
}

// configSatisfied: a config-key edge has been resolved to a source
// span and that span's default/declaration is packed.
func configSatisfied(included []*packedItem, edges []*store.Edge) (bool, string) {
	for _, it := range included {
		if it.candidate.EdgeType == store.EdgeKindConfigKey && it.level >= LevelDefinition {
			return true, "config key resolved to its declaring source"
		}
	}
	return false, ""
}

// routeSatisfied: a routes edge target (the handler) is packed with at
// least its signature visible.
func routeSatisfied(included []*packedItem, edges []*store.Edge) (bool, string) {
	for _, it := range included {
		if it.candidate.EdgeType == store.EdgeKindRoutes && it.level >= LevelDefinition {
			return true, "route handler signature packed"
		}
	}
	return false, ""
}
