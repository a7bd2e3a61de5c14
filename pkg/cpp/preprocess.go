// preprocess.go implements the main preprocessor driver. The driver walks
// directives line by line, maintains the conditional-inclusion and pack
// stacks, and emits the macro-expanded tokens of the selected regions.
package cpp

import (
	"fmt"
)

// Options configures the preprocessor.
type Options struct {
	Defines      []string // -D definitions (NAME or NAME=VALUE)
	Undefines    []string // -U undefinitions
	MaxExpansion int      // rescan budget per expansion run; 0 means default
}

// Preprocessor drives directive processing and macro expansion. The macro
// table persists across files so definitions carry over; the conditional and
// pack stacks are per file.
type Preprocessor struct {
	macros *MacroTable
	diags  *DiagList
	opts   Options

	// OnDefine and OnUndef, when set, observe directive processing in source
	// order so callers can mirror macro definitions elsewhere.
	OnDefine func(*Macro)
	OnUndef  func(name string)
}

// NewPreprocessor creates a new preprocessor instance.
func NewPreprocessor(opts Options) *Preprocessor {
	macros := NewMacroTable()
	macros.ApplyCmdlineDefines(opts.Defines, opts.Undefines)

	return &Preprocessor{
		macros: macros,
		diags:  &DiagList{},
		opts:   opts,
	}
}

// Macros returns the macro table for inspection.
func (p *Preprocessor) Macros() *MacroTable {
	return p.macros
}

// Diagnostics returns the accumulated diagnostics.
func (p *Preprocessor) Diagnostics() []Diagnostic {
	return p.diags.All()
}

// DiagSink returns the diagnostic list shared by all pipeline stages.
func (p *Preprocessor) DiagSink() *DiagList {
	return p.diags
}

// Preprocess runs the directive walk over one file's source text. It returns
// the token stream of the selected regions with macros expanded and
// directives removed, plus the pack tracker describing #pragma pack state by
// line. Only tokenizer failures are fatal.
func (p *Preprocessor) Preprocess(source, filename string) ([]Token, *PackTracker, error) {
	lex := NewLexer(source, filename)
	conditional := NewConditionalProcessor(p.macros, p.diags)
	pack := NewPackTracker(p.diags)
	expander := NewExpander(p.macros, p.diags)
	expander.SetMaxExpansion(p.opts.MaxExpansion)

	var output []Token
	var lineTokens []Token
	lastLoc := SourceLoc{File: filename, Line: 1}

	flush := func() error {
		if len(lineTokens) == 0 {
			return nil
		}
		if lex.Unterminated() {
			return fmt.Errorf("%s:%d: unterminated string or character constant",
				filename, lineTokens[0].Loc.Line)
		}
		out := p.processLine(lineTokens, conditional, pack, expander)
		output = append(output, out...)
		lineTokens = nil
		return nil
	}

	for {
		tok := lex.NextToken()

		if tok.Type == PP_EOF {
			if err := flush(); err != nil {
				return nil, nil, err
			}
			lastLoc = tok.Loc
			break
		}

		lineTokens = append(lineTokens, tok)
		if tok.Type == PP_NEWLINE {
			if err := flush(); err != nil {
				return nil, nil, err
			}
		}
	}

	conditional.CheckBalanced(lastLoc)

	return output, pack, nil
}

// processLine handles a single line of tokens and returns the tokens to
// emit, if any.
func (p *Preprocessor) processLine(tokens []Token, conditional *ConditionalProcessor, pack *PackTracker, expander *Expander) []Token {
	firstNonWS := 0
	for firstNonWS < len(tokens) && tokens[firstNonWS].Type == PP_WHITESPACE {
		firstNonWS++
	}

	// Directive line
	if firstNonWS < len(tokens) && tokens[firstNonWS].Type == PP_HASH {
		p.processDirective(tokens[firstNonWS:], conditional, pack)
		return nil
	}

	// Regular line: only emitted when the region is selected
	if !conditional.IsActive() {
		return nil
	}

	return expander.Expand(tokens)
}

// processDirective dispatches one preprocessing directive.
func (p *Preprocessor) processDirective(tokens []Token, conditional *ConditionalProcessor, pack *PackTracker) {
	loc := tokens[0].Loc

	// Strip the introducing # and the line's trailing newline
	body := tokens[1:]
	if len(body) > 0 && body[len(body)-1].Type == PP_NEWLINE {
		body = body[:len(body)-1]
	}

	dir, err := ParseDirectiveFromTokens(body, loc)
	if err != nil {
		if conditional.IsActive() {
			p.diags.Warnf(loc, "malformed directive: %v", err)
		}
		return
	}

	// Conditional directives apply even inside inactive regions
	switch dir.Type {
	case DIR_IF:
		conditional.ProcessIf(dir.Expression, loc)
		return
	case DIR_IFDEF:
		conditional.ProcessIfdef(dir.Name)
		return
	case DIR_IFNDEF:
		conditional.ProcessIfndef(dir.Name)
		return
	case DIR_ELIF:
		conditional.ProcessElif(dir.Expression, loc)
		return
	case DIR_ELSE:
		conditional.ProcessElse(loc)
		return
	case DIR_ENDIF:
		conditional.ProcessEndif(loc)
		return
	}

	// Everything else only applies in active regions
	if !conditional.IsActive() {
		return
	}

	switch dir.Type {
	case DIR_DEFINE:
		p.macros.DefineFromDirective(dir)
		if p.OnDefine != nil {
			p.OnDefine(p.macros.Lookup(dir.Name))
		}
	case DIR_UNDEF:
		p.macros.Undefine(dir.Name)
		if p.OnUndef != nil {
			p.OnUndef(dir.Name)
		}
	case DIR_PRAGMA:
		// Pack pragmas update the tracker; all others are ignored silently
		pack.ProcessPragma(dir.PragmaTokens, loc)
	case DIR_EMPTY:
	case DIR_UNKNOWN:
		p.diags.Warnf(loc, "unknown directive #%s skipped", dir.Name)
	}
}
