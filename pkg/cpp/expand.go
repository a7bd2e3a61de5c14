// expand.go implements macro expansion including argument substitution,
// stringification, and token pasting.
package cpp

import (
	"strings"
)

// DefaultMaxExpansion bounds macro rescans per expansion run.
const DefaultMaxExpansion = 128

// Expander handles macro expansion. Problems during expansion are non-fatal
// and reported to the diagnostic list.
type Expander struct {
	macros  *MacroTable
	hideset map[string]bool // macros currently being expanded (blue paint)
	diags   *DiagList

	maxExpansion int
	steps        int
	budgetHit    bool
}

// NewExpander creates a new macro expander. diags may be nil, in which case
// diagnostics are discarded.
func NewExpander(macros *MacroTable, diags *DiagList) *Expander {
	if diags == nil {
		diags = &DiagList{}
	}
	return &Expander{
		macros:       macros,
		hideset:      make(map[string]bool),
		diags:        diags,
		maxExpansion: DefaultMaxExpansion,
	}
}

// SetMaxExpansion overrides the rescan budget. Values below 1 keep the
// default.
func (e *Expander) SetMaxExpansion(n int) {
	if n >= 1 {
		e.maxExpansion = n
	}
}

// Expand expands all macros in the token stream. The budget is reset per
// call; if it runs out, the partial expansion is returned and a warning
// recorded.
func (e *Expander) Expand(tokens []Token) []Token {
	e.steps = 0
	e.budgetHit = false
	return e.expandTokens(tokens, nil)
}

// expandTokens expands macros in a token stream.
// parentHideset is the inherited hideset for nested expansion.
func (e *Expander) expandTokens(tokens []Token, parentHideset map[string]bool) []Token {
	var result []Token
	i := 0

	for i < len(tokens) {
		tok := tokens[i]

		// Only identifiers can be macros
		if tok.Type != PP_IDENTIFIER {
			result = append(result, tok)
			i++
			continue
		}

		macro := e.macros.Lookup(tok.Text)
		if macro == nil {
			result = append(result, tok)
			i++
			continue
		}

		// Check hideset (blue paint) - prevent recursive expansion
		inHideset := e.hideset[tok.Text]
		if parentHideset != nil && parentHideset[tok.Text] {
			inHideset = true
		}
		if inHideset {
			result = append(result, tok)
			i++
			continue
		}

		if !e.spendBudget(tok.Loc) {
			result = append(result, tokens[i:]...)
			return result
		}

		if macro.Kind == MacroFunction {
			// Look for opening paren (may have whitespace before it)
			parenIdx := i + 1
			for parenIdx < len(tokens) && tokens[parenIdx].Type == PP_WHITESPACE {
				parenIdx++
			}

			if parenIdx >= len(tokens) || tokens[parenIdx].Type != PP_PUNCTUATOR || tokens[parenIdx].Text != "(" {
				// No '(' follows - not a macro invocation
				result = append(result, tok)
				i++
				continue
			}

			args, endIdx, ok := e.parseArguments(tokens, parenIdx)
			if !ok {
				e.diags.Warnf(tok.Loc, "unterminated argument list for macro %s", macro.Name)
				result = append(result, tokens[i:]...)
				return result
			}

			// Arity mismatch: leave the invocation untouched
			if !argCountMatches(macro, args) {
				e.diags.Warnf(tok.Loc, "macro %s expects %d arguments, got %d; expansion skipped",
					macro.Name, len(macro.Params), len(args))
				result = append(result, tokens[i:endIdx+1]...)
				i = endIdx + 1
				continue
			}

			expanded := e.expandFunctionMacro(macro, args, tok.Loc)
			result = append(result, expanded...)
			i = endIdx + 1
			continue
		}

		expanded := e.expandObjectMacro(macro, tok.Loc)
		result = append(result, expanded...)
		i++
	}

	return result
}

// spendBudget consumes one expansion step. When the budget is exhausted the
// first time, a warning diagnostic is recorded; the partial expansion is
// kept.
func (e *Expander) spendBudget(loc SourceLoc) bool {
	if e.budgetHit {
		return false
	}
	e.steps++
	if e.steps > e.maxExpansion {
		e.budgetHit = true
		e.diags.Warnf(loc, "macro expansion exceeded %d steps; partial expansion kept", e.maxExpansion)
		return false
	}
	return true
}

// expandObjectMacro expands an object-like macro.
func (e *Expander) expandObjectMacro(macro *Macro, loc SourceLoc) []Token {
	// Add to hideset
	e.hideset[macro.Name] = true
	defer delete(e.hideset, macro.Name)

	replacement := make([]Token, len(macro.Replacement))
	for i, tok := range macro.Replacement {
		replacement[i] = tok
		replacement[i].Loc = loc
	}

	replacement = e.handleTokenPasting(replacement, loc)

	return e.expandTokens(replacement, e.hideset)
}

// expandFunctionMacro expands a function-like macro with given arguments.
func (e *Expander) expandFunctionMacro(macro *Macro, args [][]Token, loc SourceLoc) []Token {
	e.hideset[macro.Name] = true
	defer delete(e.hideset, macro.Name)

	paramMap := make(map[string][]Token)
	for i, param := range macro.Params {
		if i < len(args) {
			paramMap[param] = args[i]
		} else {
			paramMap[param] = nil
		}
	}

	if macro.IsVariadic {
		paramMap["__VA_ARGS__"] = buildVAArgs(args, len(macro.Params))
	}

	// Substitute parameters in the replacement list
	var result []Token
	i := 0
	replacement := macro.Replacement

	for i < len(replacement) {
		tok := replacement[i]

		// Stringification: # followed by a parameter
		if (tok.Type == PP_PUNCTUATOR && tok.Text == "#") || tok.Type == PP_HASH {
			nextIdx := i + 1
			for nextIdx < len(replacement) && replacement[nextIdx].Type == PP_WHITESPACE {
				nextIdx++
			}
			if nextIdx < len(replacement) && replacement[nextIdx].Type == PP_IDENTIFIER {
				paramName := replacement[nextIdx].Text
				if paramTokens, ok := paramMap[paramName]; ok {
					result = append(result, stringify(paramTokens, loc))
					i = nextIdx + 1
					continue
				}
			}
		}

		// Parameter substitution
		if tok.Type == PP_IDENTIFIER {
			if paramTokens, ok := paramMap[tok.Text]; ok {
				// Adjacent to ##: substitute without expansion
				beforePaste := i > 0 && isPasteOp(replacement[i-1])
				afterPaste := i+1 < len(replacement) && isPasteOp(replacement[i+1])

				if beforePaste || afterPaste {
					for _, pt := range paramTokens {
						pt.Loc = loc
						result = append(result, pt)
					}
				} else {
					// Arguments are expanded before substitution
					expanded := e.expandTokens(paramTokens, e.hideset)
					for _, pt := range expanded {
						pt.Loc = loc
						result = append(result, pt)
					}
				}
				i++
				continue
			}
		}

		newTok := tok
		newTok.Loc = loc
		result = append(result, newTok)
		i++
	}

	result = e.handleTokenPasting(result, loc)

	return e.expandTokens(result, e.hideset)
}

// parseArguments parses the arguments to a function-like macro invocation.
// Arguments are split on top-level commas; parentheses nest. Returns the
// argument token lists and the index of the closing paren.
func (e *Expander) parseArguments(tokens []Token, startIdx int) ([][]Token, int, bool) {
	// startIdx points to '('
	i := startIdx + 1
	var args [][]Token
	var currentArg []Token
	parenDepth := 1

	for i < len(tokens) {
		tok := tokens[i]

		if tok.Type == PP_PUNCTUATOR {
			switch tok.Text {
			case "(":
				parenDepth++
				currentArg = append(currentArg, tok)
			case ")":
				parenDepth--
				if parenDepth == 0 {
					if len(currentArg) > 0 || len(args) > 0 {
						args = append(args, trimWhitespace(currentArg))
					}
					return args, i, true
				}
				currentArg = append(currentArg, tok)
			case ",":
				if parenDepth == 1 {
					args = append(args, trimWhitespace(currentArg))
					currentArg = nil
				} else {
					currentArg = append(currentArg, tok)
				}
			default:
				currentArg = append(currentArg, tok)
			}
		} else {
			currentArg = append(currentArg, tok)
		}
		i++
	}

	return nil, 0, false
}

// argCountMatches checks the invocation arity against the macro definition.
func argCountMatches(macro *Macro, args [][]Token) bool {
	expected := len(macro.Params)
	if macro.IsVariadic {
		return len(args) >= expected
	}
	return len(args) == expected
}

// buildVAArgs builds the __VA_ARGS__ replacement from extra arguments.
func buildVAArgs(args [][]Token, numParams int) []Token {
	if len(args) <= numParams {
		return nil
	}

	var result []Token
	extraArgs := args[numParams:]
	for i, arg := range extraArgs {
		if i > 0 {
			result = append(result, Token{Type: PP_PUNCTUATOR, Text: ","})
			result = append(result, Token{Type: PP_WHITESPACE, Text: " "})
		}
		result = append(result, arg...)
	}
	return result
}

// stringify converts tokens to a string literal (the # operator).
func stringify(tokens []Token, loc SourceLoc) Token {
	var sb strings.Builder
	sb.WriteByte('"')

	// Runs of whitespace become a single space
	lastWasSpace := true // start true to skip leading space
	for _, tok := range tokens {
		if tok.Type == PP_WHITESPACE || tok.Type == PP_NEWLINE {
			if !lastWasSpace {
				sb.WriteByte(' ')
				lastWasSpace = true
			}
			continue
		}
		lastWasSpace = false

		if tok.Type == PP_STRING || tok.Type == PP_CHAR_CONST {
			for _, c := range tok.Text {
				if c == '"' || c == '\\' {
					sb.WriteByte('\\')
				}
				sb.WriteRune(c)
			}
		} else {
			sb.WriteString(tok.Text)
		}
	}

	str := strings.TrimSuffix(sb.String(), " ") + "\""
	return Token{Type: PP_STRING, Text: str, Loc: loc}
}

// handleTokenPasting handles the ## operator. Malformed pastes are reported
// as warnings and the ## dropped.
func (e *Expander) handleTokenPasting(tokens []Token, loc SourceLoc) []Token {
	var result []Token
	i := 0

	for i < len(tokens) {
		tok := tokens[i]

		if tok.Type == PP_HASHHASH {
			// Whitespace around ## does not participate in the paste
			for len(result) > 0 && result[len(result)-1].Type == PP_WHITESPACE {
				result = result[:len(result)-1]
			}
			if len(result) == 0 || i+1 >= len(tokens) {
				e.diags.Warnf(loc, "## cannot appear at the edge of a replacement list")
				i++
				continue
			}

			nextIdx := i + 1
			for nextIdx < len(tokens) && tokens[nextIdx].Type == PP_WHITESPACE {
				nextIdx++
			}
			if nextIdx >= len(tokens) {
				e.diags.Warnf(loc, "## cannot appear at the edge of a replacement list")
				break
			}

			leftTok := result[len(result)-1]
			rightTok := tokens[nextIdx]

			result = result[:len(result)-1]

			if leftTok.Type == PP_PLACEHOLDER {
				result = append(result, rightTok)
				i = nextIdx + 1
				continue
			}
			if rightTok.Type == PP_PLACEHOLDER {
				result = append(result, leftTok)
				i = nextIdx + 1
				continue
			}

			pasted := retokenize(leftTok.Text+rightTok.Text, leftTok.Loc)
			if len(pasted) == 0 {
				result = append(result, Token{Type: PP_PLACEHOLDER, Text: "", Loc: leftTok.Loc})
			} else {
				result = append(result, pasted...)
			}

			i = nextIdx + 1
			continue
		}

		result = append(result, tok)
		i++
	}

	var filtered []Token
	for _, tok := range result {
		if tok.Type != PP_PLACEHOLDER {
			filtered = append(filtered, tok)
		}
	}

	return filtered
}

// retokenize tokenizes a pasted string.
func retokenize(text string, loc SourceLoc) []Token {
	if text == "" {
		return nil
	}

	lex := NewLexer(text, loc.File)
	var tokens []Token
	for {
		tok := lex.NextToken()
		if tok.Type == PP_EOF || tok.Type == PP_NEWLINE {
			break
		}
		if tok.Type != PP_WHITESPACE {
			tok.Loc = loc
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// isPasteOp checks if a token is the ## operator.
func isPasteOp(tok Token) bool {
	return tok.Type == PP_HASHHASH
}

// trimWhitespace removes leading and trailing whitespace from a token slice.
func trimWhitespace(tokens []Token) []Token {
	start := 0
	for start < len(tokens) && tokens[start].Type == PP_WHITESPACE {
		start++
	}
	end := len(tokens)
	for end > start && tokens[end-1].Type == PP_WHITESPACE {
		end--
	}
	if start >= end {
		return nil
	}
	return tokens[start:end]
}

// ExpandString is a convenience function to expand macros in a string.
func (e *Expander) ExpandString(input string) string {
	lex := NewLexer(input, "<string>")
	tokens := lex.AllTokens()

	if len(tokens) > 0 && tokens[len(tokens)-1].Type == PP_EOF {
		tokens = tokens[:len(tokens)-1]
	}

	return TokensToString(e.Expand(tokens))
}
