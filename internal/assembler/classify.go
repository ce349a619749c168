package assembler

import (
	"regexp"
	"strings"
)

// QueryClass is a coarse classification of what kind of answer a query
// is looking for, used to pick the cheapest level likely to satisfy it
// and to select an early-stop heuristic.
type QueryClass string

const (
	ClassSymbol  QueryClass = "symbol"
	ClassConfig  QueryClass = "config"
	ClassRoute   QueryClass = "route"
	ClassGeneric QueryClass = "generic"
)

var (
	allCapsToken = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{2,}\b`)
	dottedKey    = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)+\b`)
	configWords  = []string{"config", "setting", "option", "env var", "environment variable"}
	routeWords   = []string{"route", "endpoint", "handler", "api"}
)

// ClassifyQuery applies the keyword heuristics spec.md Â§4.6 describes
// for early-stop classification.
func ClassifyQuery(query string) QueryClass {
	lower := strings.ToLower(query)

	for _, w := range configWords {
		if strings.Contains(lower, w) {
			return ClassConfig
		}
	}
	if allCapsToken.MatchString(query) || dottedKey.MatchString(query) {
		return ClassConfig
	}
	for _, w := range routeWords {
		if strings.Contains(lower, w) {
			return ClassRoute
		}
	}
	if mentionsSpecificSymbol(query) {
		return ClassSymbol
	}
	return ClassGeneric
}

// mentionsSpecificSymbol is a light heuristic: a query referencing an
// identifier-shaped token (camelCase, PascalCase, or snake_case, at
// least 3 characters) is treated as asking about a specific symbol.
var identifierToken = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]{2,}\b`)

func mentionsSpecificSymbol(query string) bool {
	for _, tok := range identifierToken.FindAllString(query, -1) {
		if strings.ContainsAny(tok, "_") || hasInternalCapital(tok) {
			return true
		}
	}
	return false
}

func hasInternalCapital(s string) bool {
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}
