package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/ctxengine/internal/store"
)

// extractName finds the identifier naming a symbol-defining node.
func extractName(n *Node, source []byte, cfg *LanguageConfig) string {
	switch cfg.Name {
	case "go":
		return extractGoName(n, source)
	default:
		return extractGenericName(n, source, cfg)
	}
}

func extractGoName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		if c := n.FindChildByType("identifier"); c != nil {
			return c.GetContent(source)
		}
	case "method_declaration":
		if c := n.FindChildByType("field_identifier"); c != nil {
			return c.GetContent(source)
		}
	case "type_declaration":
		for _, spec := range n.FindChildrenByType("type_spec") {
			if c := spec.FindChildByType("type_identifier"); c != nil {
				return c.GetContent(source)
			}
		}
	case "const_declaration":
		for _, spec := range n.FindChildrenByType("const_spec") {
			if c := spec.FindChildByType("identifier"); c != nil {
				return c.GetContent(source)
			}
		}
	case "var_declaration":
		for _, spec := range n.FindChildrenByType("var_spec") {
			if c := spec.FindChildByType("identifier"); c != nil {
				return c.GetContent(source)
			}
		}
	}
	return ""
}

func extractGenericName(n *Node, source []byte, cfg *LanguageConfig) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" || n.Type == "assignment" {
		for _, child := range n.Children {
			if child.Type == "variable_declarator" {
				if c := child.FindChildByType(cfg.IdentifierType); c != nil {
					return c.GetContent(source)
				}
			}
		}
		// Python: `name = value` is itself the assignment node.
		if len(n.Children) > 0 && n.Children[0].Type == cfg.IdentifierType {
			return n.Children[0].GetContent(source)
		}
	}
	for _, child := range n.Children {
		if child.Type == cfg.IdentifierType || child.Type == "type_identifier" || child.Type == "property_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

// docComment walks backward from n's starting line collecting the
// single-line comments above it (blank lines between them are skipped;
// the first non-comment, non-blank line ends the scan), matching the teacher's
// line-scan approach (no grammar exposes a "doc comment" node
// directly for any of these four languages).
func docComment(n *Node, source []byte, language string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	var lines []string
	pos := lineStart - 1
	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}
		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

		switch language {
		case "go", "typescript", "tsx", "javascript", "jsx":
			if strings.HasPrefix(prevLine, "//") {
				lines = append([]string{strings.TrimPrefix(prevLine, "//")}, lines...)
				continue
			}
		case "python":
			if strings.HasPrefix(prevLine, "#") {
				lines = append([]string{strings.TrimPrefix(prevLine, "#")}, lines...)
				continue
			}
		}
		if prevLine != "" {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// signature extracts the first line of a declaration, up to its
// opening brace (or colon for Python), for use as the Span's
// Signature and the Capsule/Definition assembly levels.
func signature(content, language string) string {
	firstLine := strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])
	if language == "python" {
		return firstLine
	}
	if idx := strings.Index(firstLine, "{"); idx != -1 {
		return strings.TrimSpace(firstLine[:idx])
	}
	return firstLine
}

// fileContext renders the package/import preamble prepended to every
// chunk's content so retrieval and assembly see a chunk's dependencies
// without needing a second lookup.
func fileContext(tree *Tree, path string, cfg *LanguageConfig) string {
	var parts []string
	switch tree.Language {
	case "go":
		for _, n := range tree.Root.Children {
			if n.Type == "package_clause" {
				parts = append(parts, n.GetContent(tree.Source))
			}
		}
		for _, n := range tree.Root.FindChildrenByType("import_declaration") {
			parts = append(parts, n.GetContent(tree.Source))
		}
	default:
		for _, t := range cfg.ImportTypes {
			for _, n := range tree.Root.FindChildrenByType(t) {
				parts = append(parts, n.GetContent(tree.Source))
			}
		}
	}

	marker := fmt.Sprintf("// File: %s", path)
	if tree.Language == "python" {
		marker = fmt.Sprintf("# File: %s", path)
	}
	if len(parts) == 0 {
		return marker
	}
	return marker + "\n" + strings.Join(parts, "\n\n")
}

// symbolNode pairs an AST node with its resolved kind and name so the
// span builder doesn't need to re-walk the config tables per node.
type symbolNode struct {
	node *Node
	kind store.SpanKind
	name string
}

// findSymbolNodes walks tree for every node matching one of cfg's
// symbol-defining node types, in document order.
func findSymbolNodes(tree *Tree, cfg *LanguageConfig) []*symbolNode {
	var out []*symbolNode
	tree.Root.Walk(func(n *Node) bool {
		kind, ok := cfg.spanKindFor(n.Type)
		if !ok {
			return true
		}
		name := extractName(n, tree.Source, cfg)
		if name == "" {
			return true
		}
		out = append(out, &symbolNode{node: n, kind: kind, name: name})
		return true
	})
	return out
}

// buildSpansAndChunks walks tree's symbol nodes, producing one Span
// (content-addressed per store.ComputeSpanID) and at least one Chunk
// per symbol, plus one module-kind Span/Chunk for the whole file. The
// module span always starts the Parents chain every other span in the
// file carries, matching store.Span.Parents' "ordered ancestor ids,
// rooted at a module span" contract.
func buildSpansAndChunks(tree *Tree, file FileInput, cfg *LanguageConfig, opts IndexerOptions) ([]*store.Span, []*store.Chunk, map[string]string) {
	ctx := fileContext(tree, file.Path, cfg)

	moduleDoc := ""
	moduleSig := fmt.Sprintf("module %s", file.Path)
	moduleSpan := buildSpan(file, 0, len(tree.Source), store.SpanKindModule, file.Path, moduleSig, moduleDoc, nil)
	spans := []*store.Span{moduleSpan}
	chunks := []*store.Chunk{buildChunk(file, moduleSpan, string(tree.Source), store.ContentTypeCode, 1, countLines(tree.Source))}

	nameToSpanID := map[string]string{file.Path: moduleSpan.ID}

	for _, sn := range findSymbolNodes(tree, cfg) {
		doc := docComment(sn.node, tree.Source, tree.Language)
		content := sn.node.GetContent(tree.Source)
		sig := signature(content, tree.Language)
		parents := []string{moduleSpan.ID}

		span := buildSpan(file, int(sn.node.StartByte), int(sn.node.EndByte), sn.kind, sn.name, sig, doc, parents)
		spans = append(spans, span)
		nameToSpanID[sn.name] = span.ID

		full := content
		if doc != "" {
			full = doc + "\n" + content
		}
		chunkContent := ctx + "\n\n" + full
		chunks = append(chunks, buildChunk(file, span, chunkContent, store.ContentTypeCode,
			int(sn.node.StartPoint.Row)+1, int(sn.node.EndPoint.Row)+1))

		if tokens := estimateTokens(chunkContent); tokens > opts.MaxChunkTokens {
			chunks = append(chunks, splitOverflow(file, span, chunkContent, opts)...)
		}
	}

	return spans, chunks, nameToSpanID
}

func buildSpan(file FileInput, start, end int, kind store.SpanKind, name, sig, doc string, parents []string) *store.Span {
	id := store.ComputeSpanID(file.Repo, file.Path, start, end, kind, name, sig, doc, parents)
	return &store.Span{
		ID:        id,
		Repo:      file.Repo,
		Path:      file.Path,
		ByteStart: start,
		ByteEnd:   end,
		Kind:      kind,
		Name:      name,
		Signature: sig,
		Doc:       doc,
		Parents:   parents,
		UpdatedAt: time.Now(),
	}
}

func buildChunk(file FileInput, span *store.Span, content string, ct store.ContentType, startLine, endLine int) *store.Chunk {
	contextHash := fmt.Sprintf("%d:%d", startLine, len(content))
	return &store.Chunk{
		ID:          store.ComputeChunkID(span.ID, contextHash),
		SpanID:      span.ID,
		Repo:        file.Repo,
		Path:        file.Path,
		Content:     content,
		ContentType: ct,
		Language:    file.Language,
		StartLine:   startLine,
		EndLine:     endLine,
		CreatedAt:   time.Now(),
	}
}

// splitOverflow breaks an oversized symbol's content into overlapping
// line-based windows, each its own Chunk against the same Span (a
// Span may have several Chunks; the assembler picks the longest, see
// internal/store.GetChunksBySpanIDs).
func splitOverflow(file FileInput, span *store.Span, content string, opts IndexerOptions) []*store.Chunk {
	lines := strings.Split(content, "\n")
	maxLines := (opts.MaxChunkTokens * TokensPerChar) / 80
	if maxLines < 20 {
		maxLines = 20
	}
	overlap := (opts.OverlapTokens * TokensPerChar) / 80
	if overlap < 2 {
		overlap = 2
	}

	var out []*store.Chunk
	for i := 0; i < len(lines); {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		part := strings.Join(lines[i:end], "\n")
		out = append(out, buildChunk(file, span, part, store.ContentTypeCode, span.ByteStart+i, span.ByteStart+end))
		if end >= len(lines) {
			break
		}
		i = end - overlap
		if i <= 0 {
			break
		}
	}
	return out
}

func countLines(b []byte) int {
	return strings.Count(string(b), "\n") + 1
}
