package ingest

import (
	"strings"

	"github.com/Aman-CERP/ctxengine/internal/store"
)

// enclosingSpan walks a node's ancestors to find the nearest symbol
// node it is nested inside, falling back to the module span when the
// reference sits at file scope (e.g. a top-level var's initializer).
func enclosingSpan(n *Node, symbolNodes []*symbolNode, moduleSpanID string, nameToSpanID map[string]string) string {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		for _, sn := range symbolNodes {
			if sn.node == cur {
				return nameToSpanID[sn.name]
			}
		}
	}
	return moduleSpanID
}

// extractReferences walks tree for call, import, read/write, test,
// route, and config-key references. References whose target resolves
// to a span already produced from this same file are emitted as
// store.Edge directly (Unresolved: false); everything else becomes a
// pendingReference for the Indexer to resolve once every file in the
// batch has been parsed.
func extractReferences(tree *Tree, file FileInput, cfg *LanguageConfig, symbolNodes []*symbolNode, nameToSpanID map[string]string) ([]*store.Edge, []pendingReference) {
	moduleSpanID := nameToSpanID[file.Path]
	var edges []*store.Edge
	var pending []pendingReference

	resolve := func(source string, kind store.EdgeKind, target string, confidence float64) {
		if spanID, ok := nameToSpanID[target]; ok && spanID != source {
			edges = append(edges, &store.Edge{
				SourceSpanID: source,
				TargetSpanID: spanID,
				Kind:         kind,
				Confidence:   confidence,
				Provenance:   store.ProvenanceHeuristic,
			})
			return
		}
		pending = append(pending, pendingReference{
			kind: refKindFor(kind), edgeKind: kind, sourceSpanID: source,
			targetName: target, confidence: confidence,
			provenance: store.ProvenanceHeuristic, originPath: file.Path,
		})
	}

	for _, imp := range importTargets(tree, cfg) {
		edges = append(edges, &store.Edge{
			SourceSpanID: moduleSpanID,
			TargetPath:   imp,
			Kind:         store.EdgeKindImport,
			Confidence:   1.0,
			Provenance:   store.ProvenanceHeuristic,
			Unresolved:   true,
		})
	}

	tree.Root.Walk(func(n *Node) bool {
		if isCallType(n.Type, cfg) {
			handleCall(n, tree, file, cfg, symbolNodes, nameToSpanID, moduleSpanID, resolve, &pending)
		}
		return true
	})

	for _, sn := range symbolNodes {
		if !isTestFunction(sn.name, cfg) {
			continue
		}
		target := strings.TrimPrefix(strings.TrimPrefix(sn.name, cfg.TestFuncPrefix), "_")
		resolve(nameToSpanID[sn.name], store.EdgeKindTestOf, target, 0.5)
	}

	return edges, pending
}

// extractReadWrites links a function or method span to the
// module-level variables/constants (varNames) its body references,
// distinguishing a write (the identifier sits on an assignment's
// left-hand side) from a plain read. Only same-file globals are
// considered: a name collision with another file's unrelated global
// is exactly the false-positive risk of a heuristic extractor, so the
// confidence is kept low relative to call/test-of edges.
func extractReadWrites(tree *Tree, cfg *LanguageConfig, symbolNodes []*symbolNode, nameToSpanID map[string]string, varNames map[string]bool, moduleSpanID string) []*store.Edge {
	var edges []*store.Edge
	tree.Root.Walk(func(n *Node) bool {
		if n.Type != cfg.IdentifierType {
			return true
		}
		name := n.GetContent(tree.Source)
		if !varNames[name] {
			return true
		}
		source := enclosingSpan(n, symbolNodes, moduleSpanID, nameToSpanID)
		target, ok := nameToSpanID[name]
		if !ok || target == source {
			return true
		}
		kind := store.EdgeKindRead
		if isAssignmentTarget(n) {
			kind = store.EdgeKindWrite
		}
		edges = append(edges, &store.Edge{
			SourceSpanID: source,
			TargetSpanID: target,
			Kind:         kind,
			Confidence:   0.4,
			Provenance:   store.ProvenanceHeuristic,
		})
		return true
	})
	return edges
}

func isAssignmentTarget(n *Node) bool {
	p := n.Parent
	if p == nil {
		return false
	}
	switch p.Type {
	case "assignment_statement", "short_var_declaration", "augmented_assignment":
		return len(p.Children) > 0 && p.Children[0] == n
	}
	return false
}

func refKindFor(k store.EdgeKind) referenceKind {
	switch k {
	case store.EdgeKindCall:
		return refCall
	case store.EdgeKindTestOf:
		return refTestOf
	case store.EdgeKindRoutes:
		return refRoute
	case store.EdgeKindConfigKey:
		return refConfigKey
	case store.EdgeKindRead, store.EdgeKindWrite:
		return refReadWrite
	default:
		return refCall
	}
}

func isCallType(nodeType string, cfg *LanguageConfig) bool {
	for _, t := range cfg.CallTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

func isTestFunction(name string, cfg *LanguageConfig) bool {
	if cfg.TestFuncPrefix == "" {
		return false
	}
	return strings.HasPrefix(name, cfg.TestFuncPrefix) && name != cfg.TestFuncPrefix
}

// calleeName returns the function/method name being invoked and,
// separately, the last segment after a selector (pkg.Func -> "Func"),
// which is what route/config-key heuristics match against.
func calleeName(call *Node, source []byte, cfg *LanguageConfig) (full, last string) {
	if len(call.Children) == 0 {
		return "", ""
	}
	callee := call.Children[0]
	for _, t := range cfg.SelectorTypes {
		if callee.Type == t {
			full = callee.GetContent(source)
			if field := callee.FindChildByType(cfg.FieldIdentifier); field != nil {
				last = field.GetContent(source)
			}
			return full, last
		}
	}
	full = callee.GetContent(source)
	return full, full
}

func firstStringArg(call *Node, source []byte, cfg *LanguageConfig) (string, bool) {
	for _, child := range call.Children {
		if child.Type != "argument_list" && child.Type != "arguments" {
			continue
		}
		for _, arg := range child.Children {
			for _, st := range cfg.StringTypes {
				if arg.Type == st {
					return strings.Trim(arg.GetContent(source), "\"'`"), true
				}
			}
		}
	}
	return "", false
}

// secondIdentifierArg returns the name of the last identifier
// argument to a call, the shape a route registration passes its
// handler as (`router.GET("/path", handlerFunc)`).
func secondIdentifierArg(call *Node, source []byte, cfg *LanguageConfig) (string, bool) {
	for _, child := range call.Children {
		if child.Type != "argument_list" && child.Type != "arguments" {
			continue
		}
		var idents []string
		for _, arg := range child.Children {
			if arg.Type == cfg.IdentifierType {
				idents = append(idents, arg.GetContent(source))
			}
		}
		if len(idents) > 0 {
			return idents[len(idents)-1], true
		}
	}
	return "", false
}

func handleCall(n *Node, tree *Tree, file FileInput, cfg *LanguageConfig, symbolNodes []*symbolNode, nameToSpanID map[string]string, moduleSpanID string, resolve func(string, store.EdgeKind, string, float64), pending *[]pendingReference) {
	source := enclosingSpan(n, symbolNodes, moduleSpanID, nameToSpanID)
	full, last := calleeName(n, tree.Source, cfg)
	if full == "" {
		return
	}

	for _, rn := range cfg.RouteCallNames {
		if last == rn {
			if handler, ok := secondIdentifierArg(n, tree.Source, cfg); ok {
				resolve(source, store.EdgeKindRoutes, handler, 0.6)
			}
			return
		}
	}
	for _, cn := range cfg.ConfigCallNames {
		if last == cn {
			if key, ok := firstStringArg(n, tree.Source, cfg); ok {
				*pending = append(*pending, pendingReference{
					kind: refConfigKey, edgeKind: store.EdgeKindConfigKey, sourceSpanID: source,
					targetName: normalizeConfigKey(key), confidence: 0.5,
					provenance: store.ProvenanceHeuristic, originPath: file.Path,
				})
			}
			return
		}
	}

	// Plain call: resolve against this file's own symbol names first
	// (the common case for intra-package calls); qualified calls
	// (pkg.Func) fall through to the repo-wide pass keyed on the
	// unqualified name, since only the Indexer sees every file's
	// exported names.
	target := last
	if target == "" {
		return
	}
	resolve(source, store.EdgeKindCall, target, 0.7)
}

func normalizeConfigKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", ""))
}

func importTargets(tree *Tree, cfg *LanguageConfig) []string {
	var out []string
	switch tree.Language {
	case "go":
		for _, decl := range tree.Root.FindChildrenByType("import_declaration") {
			for _, spec := range decl.FindChildrenByType("import_spec") {
				if s := spec.FindChildByType("interpreted_string_literal"); s != nil {
					out = append(out, strings.Trim(s.GetContent(tree.Source), "\""))
				}
			}
			// single-import form: import_declaration -> import_spec directly under it is covered above;
			// some grammars nest a bare interpreted_string_literal instead of import_spec.
			if s := decl.FindChildByType("interpreted_string_literal"); s != nil {
				out = append(out, strings.Trim(s.GetContent(tree.Source), "\""))
			}
		}
	default:
		for _, t := range cfg.ImportTypes {
			for _, n := range tree.Root.FindChildrenByType(t) {
				for _, st := range cfg.StringTypes {
					if s := n.FindChildByType(st); s != nil {
						out = append(out, strings.Trim(s.GetContent(tree.Source), "\"'`"))
					}
				}
			}
		}
	}
	return out
}
