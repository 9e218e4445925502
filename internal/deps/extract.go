// Package deps infers which tables a query references and resolves those
// references to producer nodes.
//
// Extraction is lexical, not grammar-based: it scans for FROM/JOIN targets
// and collects dotted or quoted identifiers. It does not understand
// subqueries-as-tables, CTEs shadowing real tables, or aliases reliably.
// It is a best-effort heuristic and never fails the run; malformed query
// text degrades to "no references found".
package deps

import (
	"strings"
	"unicode"
)

// ExtractTableRefs returns the table names referenced as FROM or JOIN
// targets in queryText, deduplicated in discovery order, lowercased.
// Quoted identifiers keep their inner text; dotted names are kept intact.
func ExtractTableRefs(queryText string) []string {
	toks := lex(queryText)

	var refs []string
	seen := make(map[string]bool)

	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		refs = append(refs, name)
	}

	for i := 0; i < len(toks); i++ {
		if !isTargetKeyword(toks[i]) {
			continue
		}

		// Capture one or more comma-separated targets after FROM; JOIN
		// introduces exactly one.
		fromList := strings.EqualFold(toks[i].text, "from")
		j := i + 1
		for j < len(toks) {
			name, next := captureName(toks, j)
			if name == "" {
				break
			}
			// An identifier directly followed by '(' is a table function
			// call (read_csv_auto, unnest, ...), not a table reference.
			if next < len(toks) && toks[next].text == "(" {
				j = next
				break
			}
			add(name)
			j = next

			// Skip an alias if present, then look for a comma to continue
			// a FROM list.
			if j < len(toks) && toks[j].kind == tokWord && !isClauseKeyword(toks[j]) && !strings.EqualFold(toks[j].text, "on") {
				if strings.EqualFold(toks[j].text, "as") {
					j++
				}
				if j < len(toks) && toks[j].kind == tokWord && !isClauseKeyword(toks[j]) {
					j++
				}
			}
			if !fromList || j >= len(toks) || toks[j].text != "," {
				break
			}
			j++
		}
	}

	return refs
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokQuoted
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

// lex splits SQL text into words, quoted identifiers, and punctuation,
// skipping string literals and comments. It never errors; unterminated
// constructs simply end the token stream.
func lex(s string) []token {
	var toks []token
	i := 0
	n := len(s)

	for i < n {
		c := s[i]
		switch {
		case c == '-' && i+1 < n && s[i+1] == '-':
			// Line comment
			for i < n && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < n && s[i+1] == '*':
			// Block comment
			i += 2
			for i+1 < n && !(s[i] == '*' && s[i+1] == '/') {
				i++
			}
			i += 2
		case c == '\'':
			// String literal, '' escapes
			i++
			for i < n {
				if s[i] == '\'' {
					if i+1 < n && s[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '"' || c == '`':
			quote := c
			i++
			start := i
			for i < n && s[i] != quote {
				i++
			}
			toks = append(toks, token{kind: tokQuoted, text: strings.ToLower(s[start:i])})
			if i < n {
				i++
			}
		case isIdentByte(c):
			start := i
			for i < n && isIdentByte(s[i]) {
				i++
			}
			toks = append(toks, token{kind: tokWord, text: strings.ToLower(s[start:i])})
		case unicode.IsSpace(rune(c)):
			i++
		default:
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		}
	}

	return toks
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80
}

// captureName reads a possibly dotted identifier starting at toks[j].
// Returns the joined name ("" if toks[j] is not an identifier) and the
// index of the first token past it.
func captureName(toks []token, j int) (string, int) {
	if j >= len(toks) || (toks[j].kind != tokWord && toks[j].kind != tokQuoted) {
		return "", j
	}
	if toks[j].kind == tokWord && isReserved(toks[j].text) {
		return "", j
	}

	parts := []string{toks[j].text}
	j++
	for j+1 < len(toks) && toks[j].text == "." && (toks[j+1].kind == tokWord || toks[j+1].kind == tokQuoted) {
		parts = append(parts, toks[j+1].text)
		j += 2
	}
	return strings.Join(parts, "."), j
}

func isTargetKeyword(t token) bool {
	return t.kind == tokWord && (t.text == "from" || t.text == "join")
}

// isClauseKeyword reports words that terminate a FROM target list.
func isClauseKeyword(t token) bool {
	switch t.text {
	case "where", "group", "order", "having", "limit", "offset", "union",
		"intersect", "except", "inner", "left", "right", "full", "cross",
		"join", "qualify", "window", "on", "using":
		return true
	}
	return false
}

// isReserved filters words that can follow FROM/JOIN without being a table
// reference (e.g. "select" in a malformed query, lateral markers).
func isReserved(w string) bool {
	switch w {
	case "select", "lateral", "unnest", "values", "from", "join", "where",
		"group", "order", "having", "limit", "offset", "on", "as", "union",
		"intersect", "except", "inner", "left", "right", "full", "cross":
		return true
	}
	return false
}
