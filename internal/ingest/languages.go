package ingest

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/Aman-CERP/ctxengine/internal/store"
)

// LanguageConfig names the node types that define symbols and
// references for one language, generalizing the teacher's chunker
// table (function/class/type node types) with the node types a
// reference extractor also needs (calls, imports, identifiers,
// string literals) and the repo conventions (test suffix, the call
// names that register routes or read configuration) that drive edge
// extraction.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	MethodTypes    []string
	ClassTypes     []string
	InterfaceTypes []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string
	NameField      string

	CallTypes        []string // call_expression-equivalent node type(s)
	SelectorTypes     []string // pkg.Name / obj.attr-equivalent node type(s)
	ImportTypes      []string
	StringTypes      []string
	IdentifierType   string
	FieldIdentifier  string // name field used by selector expressions

	TestFileSuffix      string
	TestFuncPrefix      string
	RouteCallNames      []string // last-segment call names that register an HTTP route
	ConfigCallNames     []string // last-segment call names that read a configuration key
}

// IsTestFile reports whether path looks like a test file for this language.
func (c *LanguageConfig) IsTestFile(path string) bool {
	return c.TestFileSuffix != "" && strings.Contains(path, c.TestFileSuffix)
}

// LanguageRegistry is a concurrency-safe table of LanguageConfig plus
// the tree-sitter grammar each maps to.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry returns a registry preloaded with go, typescript,
// tsx, javascript, jsx, and python.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}
	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()
	return r
}

func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	cfg, ok := r.configs[name]
	return cfg, ok
}

func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

func (r *LanguageRegistry) registerLanguage(cfg *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
	r.tsLanguages[cfg.Name] = tsLang
	for _, ext := range cfg.Extensions {
		r.extToLang[ext] = cfg.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	cfg := &LanguageConfig{
		Name:            "go",
		Extensions:      []string{".go"},
		FunctionTypes:   []string{"function_declaration"},
		MethodTypes:     []string{"method_declaration"},
		TypeDefTypes:    []string{"type_declaration"},
		ConstantTypes:   []string{"const_declaration"},
		VariableTypes:   []string{"var_declaration"},
		NameField:       "name",
		CallTypes:       []string{"call_expression"},
		SelectorTypes:    []string{"selector_expression"},
		ImportTypes:     []string{"import_declaration"},
		StringTypes:     []string{"interpreted_string_literal", "raw_string_literal"},
		IdentifierType:  "identifier",
		FieldIdentifier: "field_identifier",
		TestFileSuffix:  "_test.go",
		TestFuncPrefix:  "Test",
		RouteCallNames:  []string{"HandleFunc", "Handle", "GET", "POST", "PUT", "DELETE", "PATCH"},
		ConfigCallNames: []string{"Getenv", "GetString", "GetInt", "GetBool", "GetDuration", "Get"},
	}
	r.registerLanguage(cfg, golang.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	tsConfig := &LanguageConfig{
		Name:            "typescript",
		Extensions:      []string{".ts"},
		FunctionTypes:   []string{"function_declaration"},
		MethodTypes:     []string{"method_definition"},
		ClassTypes:      []string{"class_declaration"},
		InterfaceTypes:  []string{"interface_declaration"},
		TypeDefTypes:    []string{"type_alias_declaration"},
		ConstantTypes:   []string{"lexical_declaration"},
		VariableTypes:   []string{"variable_declaration"},
		NameField:       "name",
		CallTypes:       []string{"call_expression"},
		SelectorTypes:    []string{"member_expression"},
		ImportTypes:     []string{"import_statement"},
		StringTypes:     []string{"string"},
		IdentifierType:  "identifier",
		FieldIdentifier: "property_identifier",
		TestFileSuffix:  ".test.ts",
		TestFuncPrefix:  "test",
		RouteCallNames:  []string{"get", "post", "put", "delete", "patch", "use"},
		ConfigCallNames: []string{"env", "get"},
	}
	r.registerLanguage(tsConfig, typescript.GetLanguage())

	tsxConfig := *tsConfig
	tsxConfig.Name = "tsx"
	tsxConfig.Extensions = []string{".tsx"}
	r.registerLanguage(&tsxConfig, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	jsConfig := &LanguageConfig{
		Name:            "javascript",
		Extensions:      []string{".js", ".mjs"},
		FunctionTypes:   []string{"function_declaration", "function"},
		MethodTypes:     []string{"method_definition"},
		ClassTypes:      []string{"class_declaration"},
		ConstantTypes:   []string{"lexical_declaration"},
		VariableTypes:   []string{"variable_declaration"},
		NameField:       "name",
		CallTypes:       []string{"call_expression"},
		SelectorTypes:    []string{"member_expression"},
		ImportTypes:     []string{"import_statement"},
		StringTypes:     []string{"string"},
		IdentifierType:  "identifier",
		FieldIdentifier: "property_identifier",
		TestFileSuffix:  ".test.js",
		TestFuncPrefix:  "test",
		RouteCallNames:  []string{"get", "post", "put", "delete", "patch", "use"},
		ConfigCallNames: []string{"env", "get"},
	}
	r.registerLanguage(jsConfig, javascript.GetLanguage())

	jsxConfig := *jsConfig
	jsxConfig.Name = "jsx"
	jsxConfig.Extensions = []string{".jsx"}
	r.registerLanguage(&jsxConfig, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	cfg := &LanguageConfig{
		Name:            "python",
		Extensions:      []string{".py"},
		FunctionTypes:   []string{"function_definition"},
		ClassTypes:      []string{"class_definition"},
		VariableTypes:   []string{"assignment"},
		NameField:       "name",
		CallTypes:       []string{"call"},
		SelectorTypes:    []string{"attribute"},
		ImportTypes:     []string{"import_statement", "import_from_statement"},
		StringTypes:     []string{"string"},
		IdentifierType:  "identifier",
		FieldIdentifier: "identifier",
		TestFileSuffix:  "_test.py",
		TestFuncPrefix:  "test_",
		RouteCallNames:  []string{"get", "post", "put", "delete", "patch", "route"},
		ConfigCallNames: []string{"getenv", "get"},
	}
	r.registerLanguage(cfg, python.GetLanguage())
}

// spanKindFor maps a LanguageConfig node type to the store.SpanKind it
// defines, mirroring the teacher's SymbolType table widened to spec's
// closed SpanKind enum (teacher's chunker has no "interface" distinct
// from "type" for languages that do have one; this repo keeps that
// distinction since store.SpanKind carries it).
func (c *LanguageConfig) spanKindFor(nodeType string) (store.SpanKind, bool) {
	for _, t := range c.FunctionTypes {
		if t == nodeType {
			return store.SpanKindFunction, true
		}
	}
	for _, t := range c.MethodTypes {
		if t == nodeType {
			return store.SpanKindMethod, true
		}
	}
	for _, t := range c.ClassTypes {
		if t == nodeType {
			return store.SpanKindClass, true
		}
	}
	for _, t := range c.InterfaceTypes {
		if t == nodeType {
			return store.SpanKindInterface, true
		}
	}
	for _, t := range c.TypeDefTypes {
		if t == nodeType {
			return store.SpanKindClass, true
		}
	}
	for _, t := range c.ConstantTypes {
		if t == nodeType {
			return store.SpanKindProperty, true
		}
	}
	for _, t := range c.VariableTypes {
		if t == nodeType {
			return store.SpanKindProperty, true
		}
	}
	return "", false
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the package-wide language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
