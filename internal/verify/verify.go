package verify

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/MbohBless/data-test/internal/schema"
)

type Reason string

const (
	ReasonForbiddenCommand  Reason = "forbidden_command"
	ReasonSuspiciousPattern Reason = "suspicious_pattern"
	ReasonUnknownTable      Reason = "unknown_table"
	ReasonSyntaxRisk        Reason = "syntax_risk"
)

// Outcome is terminal for a candidate: either accepted (possibly with
// warnings) or rejected with the first violated rule. No repair is ever
// attempted.
type Outcome struct {
	Accepted bool     `json:"accepted"`
	Reason   Reason   `json:"reason,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Verifier is the safety gate between generated SQL and the warehouse.
// It is pure: the same candidate and snapshot always yield the same
// outcome, and no I/O happens here.
type Verifier struct {
	allowed map[string]bool
}

func New(allowedKeywords []string) *Verifier {
	allowed := make(map[string]bool, len(allowedKeywords))
	for _, keyword := range allowedKeywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" {
			allowed[keyword] = true
		}
	}
	return &Verifier{allowed: allowed}
}

func (v *Verifier) Verify(sqlText string, snapshot schema.Snapshot) Outcome {
	tokens, suspicious := tokenize(sqlText)

	if len(tokens) == 0 {
		return rejected(ReasonForbiddenCommand, "empty statement")
	}
	leading := tokens[0]
	if leading.kind != tokenWord || !v.allowed[leading.text] {
		return rejected(ReasonForbiddenCommand, fmt.Sprintf("statement keyword %q is not allowed", leading.text))
	}

	if suspicious != "" {
		return rejected(ReasonSuspiciousPattern, suspicious)
	}
	if detail := findStatementSeparator(tokens); detail != "" {
		return rejected(ReasonSuspiciousPattern, detail)
	}

	if unknown := firstUnknownTable(tokens, snapshot); unknown != "" {
		return rejected(ReasonUnknownTable, fmt.Sprintf("unknown table %q", unknown))
	}

	return Outcome{Accepted: true, Warnings: warningsFor(tokens)}
}

func rejected(reason Reason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

// findStatementSeparator rejects any semicolon that is not trailing;
// one statement in, one statement out.
func findStatementSeparator(tokens []token) string {
	for index, tok := range tokens {
		if tok.kind != tokenPunct || tok.text != ";" {
			continue
		}
		for _, rest := range tokens[index+1:] {
			if rest.kind != tokenPunct || rest.text != ";" {
				return "statement separator admits a second statement"
			}
		}
	}
	return ""
}

func firstUnknownTable(tokens []token, snapshot schema.Snapshot) string {
	ctes := cteNames(tokens)
	for _, name := range tableReferences(tokens) {
		if ctes[name] {
			continue
		}
		if snapshot.HasTable(name) {
			continue
		}
		if dot := strings.LastIndex(name, "."); dot >= 0 && snapshot.HasTable(name[dot+1:]) {
			continue
		}
		return name
	}
	return ""
}

// cteNames collects identifiers bound by `name AS (`, which must not be
// resolved against the warehouse schema.
func cteNames(tokens []token) map[string]bool {
	names := map[string]bool{}
	for index := 0; index+2 < len(tokens); index++ {
		if tokens[index].kind == tokenWord &&
			tokens[index+1].kind == tokenWord && tokens[index+1].text == "as" &&
			tokens[index+2].kind == tokenPunct && tokens[index+2].text == "(" {
			names[tokens[index].text] = true
		}
	}
	return names
}

// subqueryIntroducers are words that legitimately precede an opening
// paren without making it a function call.
var subqueryIntroducers = map[string]bool{
	"in": true, "exists": true, "any": true, "all": true, "some": true,
	"as": true, "on": true, "and": true, "or": true, "not": true,
	"then": true, "else": true, "when": true, "select": true,
	"where": true, "union": true, "intersect": true, "except": true,
	"from": true, "join": true, "by": true, "having": true,
	"values": true, "distinct": true,
}

var fromListTerminators = map[string]bool{
	"where": true, "group": true, "order": true, "having": true,
	"limit": true, "offset": true, "fetch": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true,
	"cross": true, "natural": true, "on": true, "using": true,
	"union": true, "intersect": true, "except": true, "window": true,
	"qualify": true,
}

// tableReferences extracts identifiers named after FROM and JOIN, in
// order of appearance. Subqueries are walked by the same pass; FROM
// tokens inside function calls (EXTRACT, SUBSTRING, TRIM) are skipped.
func tableReferences(tokens []token) []string {
	var names []string
	var parens []bool // true = function-call parens
	for index := 0; index < len(tokens); index++ {
		tok := tokens[index]
		if tok.kind == tokenPunct {
			switch tok.text {
			case "(":
				isFunc := index > 0 && tokens[index-1].kind == tokenWord && !subqueryIntroducers[tokens[index-1].text]
				parens = append(parens, isFunc)
			case ")":
				if len(parens) > 0 {
					parens = parens[:len(parens)-1]
				}
			}
			continue
		}
		if tok.kind != tokenWord || (tok.text != "from" && tok.text != "join") {
			continue
		}
		if len(parens) > 0 && parens[len(parens)-1] {
			continue
		}
		names = append(names, fromListNames(tokens, index+1, tok.text == "from")...)
	}
	return names
}

// fromListNames reads the table names of one FROM list (or the single
// name after JOIN) without consuming tokens for the caller.
func fromListNames(tokens []token, start int, list bool) []string {
	var names []string
	index := start
	for {
		name, next := qualifiedName(tokens, index)
		if name != "" {
			isCall := next < len(tokens) && tokens[next].kind == tokenPunct && tokens[next].text == "("
			if !isCall {
				names = append(names, name)
			}
		}
		if !list {
			return names
		}

		// scan past alias tokens; a depth-zero comma continues the
		// list, anything else ends it
		depth := 0
		continueAt := -1
		for scan := next; scan < len(tokens) && continueAt < 0; scan++ {
			tok := tokens[scan]
			if tok.kind == tokenPunct {
				switch tok.text {
				case "(":
					depth++
				case ")":
					if depth == 0 {
						return names
					}
					depth--
				case ",":
					if depth == 0 {
						continueAt = scan + 1
					}
				case ";":
					return names
				}
				continue
			}
			if depth == 0 && tok.kind == tokenWord && fromListTerminators[tok.text] {
				return names
			}
		}
		if continueAt < 0 {
			return names
		}
		index = continueAt
	}
}

// qualifiedName reads an identifier chain like a.b.c starting at index,
// returning the joined lower-cased name and the index past it.
func qualifiedName(tokens []token, index int) (string, int) {
	if index >= len(tokens) || tokens[index].kind != tokenWord {
		return "", index
	}
	if reservedRefStarters[tokens[index].text] {
		return "", index
	}
	parts := []string{tokens[index].text}
	index++
	for index+1 < len(tokens) &&
		tokens[index].kind == tokenPunct && tokens[index].text == "." &&
		tokens[index+1].kind == tokenWord {
		parts = append(parts, tokens[index+1].text)
		index += 2
	}
	return strings.Join(parts, "."), index
}

var reservedRefStarters = map[string]bool{
	"lateral": true, "unnest": true, "values": true, "select": true,
}

func warningsFor(tokens []token) []string {
	var warnings []string
	hasLimit := false
	for _, tok := range tokens {
		if tok.kind == tokenWord && (tok.text == "limit" || tok.text == "fetch") {
			hasLimit = true
		}
	}
	if !hasLimit && tokens[0].text != "explain" {
		warnings = append(warnings, "statement has no row limit")
	}
	for _, tok := range tokens[1:] {
		if tok.kind == tokenWord && mutatingKeywords[tok.text] {
			warnings = append(warnings, fmt.Sprintf("keyword %q appears in statement body", tok.text))
			break
		}
	}
	return warnings
}

var mutatingKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true,
	"truncate": true, "alter": true, "create": true, "grant": true,
	"revoke": true, "call": true, "copy": true,
}

const (
	tokenWord   byte = 'w'
	tokenPunct  byte = 'p'
	tokenString byte = 's'
	tokenNumber byte = 'n'
)

type token struct {
	kind byte
	text string
}

// tokenize lowers the statement into tokens, skipping string literals
// and resolving quoted identifiers. Comment openers and unterminated
// quotes are reported as a suspicious detail because they are classic
// smuggling vectors in generated SQL.
func tokenize(sqlText string) ([]token, string) {
	var tokens []token
	runes := []rune(sqlText)
	for index := 0; index < len(runes); {
		r := runes[index]
		switch {
		case unicode.IsSpace(r):
			index++
		case r == '\'':
			end, ok := scanQuoted(runes, index, '\'')
			if !ok {
				return tokens, "unterminated string literal"
			}
			tokens = append(tokens, token{kind: tokenString})
			index = end
		case r == '"':
			end, ok := scanQuoted(runes, index, '"')
			if !ok {
				return tokens, "unterminated quoted identifier"
			}
			text := strings.ToLower(string(runes[index+1 : end-1]))
			text = strings.ReplaceAll(text, `""`, `"`)
			tokens = append(tokens, token{kind: tokenWord, text: text})
			index = end
		case r == '-' && index+1 < len(runes) && runes[index+1] == '-':
			return tokens, "line comment"
		case r == '/' && index+1 < len(runes) && runes[index+1] == '*':
			return tokens, "block comment"
		case unicode.IsLetter(r) || r == '_':
			start := index
			for index < len(runes) && isWordRune(runes[index]) {
				index++
			}
			tokens = append(tokens, token{kind: tokenWord, text: strings.ToLower(string(runes[start:index]))})
		case unicode.IsDigit(r):
			start := index
			for index < len(runes) && (unicode.IsDigit(runes[index]) || runes[index] == '.') {
				index++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:index])})
		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			index++
		}
	}
	return tokens, ""
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}

// scanQuoted returns the index just past the closing quote, honoring
// doubled-quote escapes.
func scanQuoted(runes []rune, start int, quote rune) (int, bool) {
	index := start + 1
	for index < len(runes) {
		if runes[index] == quote {
			if index+1 < len(runes) && runes[index+1] == quote {
				index += 2
				continue
			}
			return index + 1, true
		}
		index++
	}
	return index, false
}
