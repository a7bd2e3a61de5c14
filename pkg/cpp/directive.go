// directive.go parses one logical line beginning with # into a Directive.
package cpp

import "fmt"

// DirectiveType identifies a preprocessing directive.
type DirectiveType int

const (
	DIR_EMPTY DirectiveType = iota
	DIR_DEFINE
	DIR_UNDEF
	DIR_IF
	DIR_IFDEF
	DIR_IFNDEF
	DIR_ELIF
	DIR_ELSE
	DIR_ENDIF
	DIR_PRAGMA
	DIR_UNKNOWN
)

// Directive is one parsed preprocessing directive.
type Directive struct {
	Type DirectiveType
	Name string // directive keyword, or macro/identifier operand

	// #define fields
	Params    []string // parameter names of a function-like macro
	ParamList bool     // a '(' immediately followed the name
	Variadic  bool     // parameter list ended with ...
	Body      []Token  // replacement list

	// #if / #elif condition
	Expression []Token

	// #pragma operand tokens
	PragmaTokens []Token

	Loc SourceLoc
}

// ParseDirectiveFromTokens parses the tokens after the introducing # of one
// logical line. The trailing newline token, if any, must not be included.
func ParseDirectiveFromTokens(tokens []Token, loc SourceLoc) (*Directive, error) {
	i := skipWS(tokens, 0)
	if i >= len(tokens) {
		// A lone # is a null directive
		return &Directive{Type: DIR_EMPTY, Loc: loc}, nil
	}

	if tokens[i].Type != PP_IDENTIFIER {
		return &Directive{Type: DIR_UNKNOWN, Name: tokens[i].Text, Loc: loc}, nil
	}

	keyword := tokens[i].Text
	rest := tokens[i+1:]

	switch keyword {
	case "define":
		return parseDefine(rest, loc)
	case "undef":
		j := skipWS(rest, 0)
		if j >= len(rest) || rest[j].Type != PP_IDENTIFIER {
			return nil, fmt.Errorf("#undef requires a macro name")
		}
		return &Directive{Type: DIR_UNDEF, Name: rest[j].Text, Loc: loc}, nil
	case "if":
		return &Directive{Type: DIR_IF, Expression: trimWhitespace(rest), Loc: loc}, nil
	case "elif":
		return &Directive{Type: DIR_ELIF, Expression: trimWhitespace(rest), Loc: loc}, nil
	case "ifdef", "ifndef":
		j := skipWS(rest, 0)
		if j >= len(rest) || rest[j].Type != PP_IDENTIFIER {
			return nil, fmt.Errorf("#%s requires an identifier", keyword)
		}
		typ := DIR_IFDEF
		if keyword == "ifndef" {
			typ = DIR_IFNDEF
		}
		return &Directive{Type: typ, Name: rest[j].Text, Loc: loc}, nil
	case "else":
		return &Directive{Type: DIR_ELSE, Loc: loc}, nil
	case "endif":
		return &Directive{Type: DIR_ENDIF, Loc: loc}, nil
	case "pragma":
		return &Directive{Type: DIR_PRAGMA, PragmaTokens: trimWhitespace(rest), Loc: loc}, nil
	default:
		return &Directive{Type: DIR_UNKNOWN, Name: keyword, Loc: loc}, nil
	}
}

func parseDefine(tokens []Token, loc SourceLoc) (*Directive, error) {
	i := skipWS(tokens, 0)
	if i >= len(tokens) || tokens[i].Type != PP_IDENTIFIER {
		return nil, fmt.Errorf("#define requires a macro name")
	}
	dir := &Directive{Type: DIR_DEFINE, Name: tokens[i].Text, Loc: loc}
	i++

	// A '(' with no intervening whitespace starts a parameter list
	if i < len(tokens) && tokens[i].Type == PP_PUNCTUATOR && tokens[i].Text == "(" {
		dir.ParamList = true
		i++
		wantName := true
		for i < len(tokens) {
			i = skipWS(tokens, i)
			if i >= len(tokens) {
				return nil, fmt.Errorf("unterminated parameter list in #define %s", dir.Name)
			}
			tok := tokens[i]
			switch {
			case tok.Type == PP_PUNCTUATOR && tok.Text == ")":
				i++
				dir.Body = tokens[i:]
				return dir, nil
			case tok.Type == PP_PUNCTUATOR && tok.Text == ",":
				if wantName {
					return nil, fmt.Errorf("misplaced ',' in #define %s parameter list", dir.Name)
				}
				wantName = true
				i++
			case tok.Type == PP_PUNCTUATOR && tok.Text == "...":
				dir.Variadic = true
				wantName = false
				i++
			case tok.Type == PP_IDENTIFIER:
				if !wantName {
					return nil, fmt.Errorf("expected ',' in #define %s parameter list", dir.Name)
				}
				dir.Params = append(dir.Params, tok.Text)
				wantName = false
				i++
			default:
				return nil, fmt.Errorf("unexpected %q in #define %s parameter list", tok.Text, dir.Name)
			}
		}
		return nil, fmt.Errorf("unterminated parameter list in #define %s", dir.Name)
	}

	dir.Body = tokens[i:]
	return dir, nil
}

func skipWS(tokens []Token, i int) int {
	for i < len(tokens) && (tokens[i].Type == PP_WHITESPACE || tokens[i].Type == PP_NEWLINE) {
		i++
	}
	return i
}
