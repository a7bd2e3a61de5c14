// Package cmodel defines the canonical type model and the definition store:
// the queryable catalog of macros, typedefs, enums, structs, unions,
// functions, variables, and reduced values extracted from a header set.
package cmodel

import (
	"encoding/gob"
	"strconv"
	"strings"
)

// Modifier is one layer applied to a base type. Modifiers are ordered
// outermost-last: in `int (*p)[4]` p carries [Array(4), Pointer].
type Modifier interface {
	implModifier()
	String() string
}

// Pointer is the * modifier.
type Pointer struct {
	Quals []string // qualifiers attached to this pointer level
}

// Array is the [N] modifier. Size is -1 for an unspecified or non-constant
// length; Expr preserves the source expression when it did not reduce.
type Array struct {
	Size int64
	Expr string
}

// Param is one parameter of a function modifier.
type Param struct {
	Name string
	Type Type
}

// Function is the (params) modifier.
type Function struct {
	Params   []Param
	Variadic bool
}

func (Pointer) implModifier()  {}
func (Array) implModifier()    {}
func (Function) implModifier() {}

func (p Pointer) String() string {
	if len(p.Quals) == 0 {
		return "*"
	}
	return "* " + strings.Join(p.Quals, " ")
}

func (a Array) String() string {
	if a.Size >= 0 {
		return "[" + strconv.FormatInt(a.Size, 10) + "]"
	}
	if a.Expr != "" {
		return "[" + a.Expr + "]"
	}
	return "[]"
}

func (f Function) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Type.String())
		if p.Name != "" {
			sb.WriteByte(' ')
			sb.WriteString(p.Name)
		}
	}
	if f.Variadic {
		if len(f.Params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
	}
	sb.WriteByte(')')
	return sb.String()
}

// Type is a canonical type reference: a base spelling, ordered modifiers
// (outermost last), and a qualifier set.
type Type struct {
	Base  string // primitive spelling, user type name, or "struct X"/"union X"/"enum X"
	Mods  []Modifier
	Quals []string
}

func (t Type) String() string {
	var sb strings.Builder
	for _, q := range t.Quals {
		sb.WriteString(q)
		sb.WriteByte(' ')
	}
	sb.WriteString(t.Base)
	for _, m := range t.Mods {
		sb.WriteByte(' ')
		sb.WriteString(m.String())
	}
	return sb.String()
}

// WithQuals returns a copy of t with the qualifiers appended.
func (t Type) WithQuals(quals []string) Type {
	if len(quals) == 0 {
		return t
	}
	out := t
	out.Quals = append(append([]string{}, t.Quals...), quals...)
	return out
}

// WithMod returns a copy of t with one more (outermost) modifier.
func (t Type) WithMod(m Modifier) Type {
	out := t
	out.Mods = append(append([]Modifier{}, t.Mods...), m)
	return out
}

// IsFunction reports whether the outermost modifier is a function signature,
// meaning a declarator of this type declares a function rather than an
// object.
func (t Type) IsFunction() bool {
	if len(t.Mods) == 0 {
		return false
	}
	_, ok := t.Mods[len(t.Mods)-1].(Function)
	return ok
}

// Equal compares two types structurally.
func Equal(a, b Type) bool {
	if a.Base != b.Base || len(a.Mods) != len(b.Mods) || !stringsEqual(a.Quals, b.Quals) {
		return false
	}
	for i := range a.Mods {
		if !modEqual(a.Mods[i], b.Mods[i]) {
			return false
		}
	}
	return true
}

func modEqual(a, b Modifier) bool {
	switch ma := a.(type) {
	case Pointer:
		mb, ok := b.(Pointer)
		return ok && stringsEqual(ma.Quals, mb.Quals)
	case Array:
		mb, ok := b.(Array)
		return ok && ma.Size == mb.Size && ma.Expr == mb.Expr
	case Function:
		mb, ok := b.(Function)
		if !ok || ma.Variadic != mb.Variadic || len(ma.Params) != len(mb.Params) {
			return false
		}
		for i := range ma.Params {
			if ma.Params[i].Name != mb.Params[i].Name || !Equal(ma.Params[i].Type, mb.Params[i].Type) {
				return false
			}
		}
		return true
	}
	return false
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// dump renders a type as plain data for YAML output.
func (t Type) dump() any {
	mods := make([]string, len(t.Mods))
	for i, m := range t.Mods {
		mods[i] = m.String()
	}
	out := map[string]any{"base": t.Base}
	if len(mods) > 0 {
		out["mods"] = mods
	}
	if len(t.Quals) > 0 {
		out["quals"] = t.Quals
	}
	return out
}

func init() {
	gob.Register(Pointer{})
	gob.Register(Array{})
	gob.Register(Function{})
}
