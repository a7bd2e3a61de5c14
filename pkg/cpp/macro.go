// macro.go implements the macro table: definition, removal, lookup, and
// snapshots of the currently defined object-like and function-like macros.
package cpp

import (
	"fmt"
	"strings"
)

// MacroKind distinguishes object-like from function-like macros.
type MacroKind int

const (
	MacroObject MacroKind = iota
	MacroFunction
)

// Macro is one #define entry.
type Macro struct {
	Kind        MacroKind
	Name        string
	Params      []string // function-like only, in declaration order
	IsVariadic  bool     // reserved: `...` in the parameter list
	Replacement []Token  // stored unexpanded; expansion is lazy
	Loc         SourceLoc
}

// Body returns the replacement list as source text.
func (m *Macro) Body() string {
	return strings.TrimSpace(TokensToString(m.Replacement))
}

// MacroTable holds the currently defined macros. Redefinition silently
// replaces the previous definition.
type MacroTable struct {
	macros map[string]*Macro
}

// NewMacroTable creates an empty macro table.
func NewMacroTable() *MacroTable {
	return &MacroTable{macros: make(map[string]*Macro)}
}

// Define registers a macro, replacing any existing definition.
func (mt *MacroTable) Define(m *Macro) {
	mt.macros[m.Name] = m
}

// DefineSimple registers an object-like macro from a source string. Used for
// command-line -D style definitions and tests.
func (mt *MacroTable) DefineSimple(name, value string, loc SourceLoc) error {
	if !IsIdentifier(name) {
		return fmt.Errorf("invalid macro name %q", name)
	}
	lex := NewLexer(value, loc.File)
	var repl []Token
	for {
		tok := lex.NextToken()
		if tok.Type == PP_EOF || tok.Type == PP_NEWLINE {
			break
		}
		repl = append(repl, tok)
	}
	mt.Define(&Macro{Kind: MacroObject, Name: name, Replacement: trimWhitespace(repl), Loc: loc})
	return nil
}

// DefineFunc registers a function-like macro from parameter names and a body
// string. Used by tests.
func (mt *MacroTable) DefineFunc(name string, params []string, body string, loc SourceLoc) error {
	if !IsIdentifier(name) {
		return fmt.Errorf("invalid macro name %q", name)
	}
	lex := NewLexer(body, loc.File)
	var repl []Token
	for {
		tok := lex.NextToken()
		if tok.Type == PP_EOF || tok.Type == PP_NEWLINE {
			break
		}
		repl = append(repl, tok)
	}
	mt.Define(&Macro{
		Kind:        MacroFunction,
		Name:        name,
		Params:      params,
		Replacement: trimWhitespace(repl),
		Loc:         loc,
	})
	return nil
}

// Undefine removes the macro if present.
func (mt *MacroTable) Undefine(name string) {
	delete(mt.macros, name)
}

// Lookup returns the macro with the given name, or nil.
func (mt *MacroTable) Lookup(name string) *Macro {
	return mt.macros[name]
}

// IsDefined reports whether name is currently defined.
func (mt *MacroTable) IsDefined(name string) bool {
	_, ok := mt.macros[name]
	return ok
}

// Names returns the defined macro names in unspecified order.
func (mt *MacroTable) Names() []string {
	names := make([]string, 0, len(mt.macros))
	for name := range mt.macros {
		names = append(names, name)
	}
	return names
}

// Snapshot captures the current table state.
func (mt *MacroTable) Snapshot() map[string]*Macro {
	snap := make(map[string]*Macro, len(mt.macros))
	for name, m := range mt.macros {
		snap[name] = m
	}
	return snap
}

// Restore resets the table to a previously taken snapshot.
func (mt *MacroTable) Restore(snap map[string]*Macro) {
	mt.macros = make(map[string]*Macro, len(snap))
	for name, m := range snap {
		mt.macros[name] = m
	}
}

// ApplyCmdlineDefines applies -D and -U style definitions in order.
// Each define is NAME or NAME=VALUE; a bare NAME defines it as 1.
func (mt *MacroTable) ApplyCmdlineDefines(defines, undefines []string) {
	for _, d := range defines {
		name, value := d, "1"
		if idx := strings.Index(d, "="); idx >= 0 {
			name, value = d[:idx], d[idx+1:]
		}
		mt.DefineSimple(name, value, SourceLoc{File: "<cmdline>", Line: 1})
	}
	for _, u := range undefines {
		mt.Undefine(u)
	}
}

// DefineFromDirective registers a macro from a parsed #define directive.
//
// A #define whose entire body is the name of an existing function-like macro
// defines a function-like alias:
//
//	#define FNMACRO1(x) x+1
//	#define FNMACRO2 FNMACRO1
func (mt *MacroTable) DefineFromDirective(dir *Directive) {
	body := trimWhitespace(dir.Body)

	if len(dir.Params) == 0 && !dir.ParamList {
		if len(body) == 1 && body[0].Type == PP_IDENTIFIER {
			if alias := mt.Lookup(body[0].Text); alias != nil && alias.Kind == MacroFunction {
				mt.Define(&Macro{
					Kind:        MacroFunction,
					Name:        dir.Name,
					Params:      alias.Params,
					IsVariadic:  alias.IsVariadic,
					Replacement: alias.Replacement,
					Loc:         dir.Loc,
				})
				return
			}
		}
		mt.Define(&Macro{Kind: MacroObject, Name: dir.Name, Replacement: body, Loc: dir.Loc})
		return
	}

	mt.Define(&Macro{
		Kind:        MacroFunction,
		Name:        dir.Name,
		Params:      dir.Params,
		IsVariadic:  dir.Variadic,
		Replacement: body,
		Loc:         dir.Loc,
	})
}
