// records.go defines the declaration records stored per kind.
package cmodel

import (
	"github.com/raymyers/headerscan/pkg/eval"
)

// Field is one member of a struct or union. An anonymous nested aggregate
// contributes a field with an empty name whose type references the inline
// record.
type Field struct {
	Name    string
	Type    Type
	BitSize int         // -1 when no bit-width was given
	Default *eval.Value // assignment-style default, when present
}

// StructRec is a struct definition. Pack is the #pragma pack value active at
// the declaration point.
type StructRec struct {
	Name   string
	Fields []Field
	Pack   int
}

// UnionRec is a union definition.
type UnionRec struct {
	Name   string
	Fields []Field
}

// EnumMember is one enumerator with its resolved value.
type EnumMember struct {
	Name  string
	Value int64
}

// EnumRec is an enum definition with members in declaration order.
type EnumRec struct {
	Name    string
	Members []EnumMember
}

// FuncRec is a function prototype.
type FuncRec struct {
	Name     string
	Return   Type
	Params   []Param
	Variadic bool
	CallConv string   // calling-convention marker, when one was given
	Storage  []string // storage-class and linkage qualifiers
}

// VarRec is a global variable declaration.
type VarRec struct {
	Name    string
	Type    Type
	Init    *eval.Value // evaluated initializer, when present
	Storage []string
}

// MacroRec is a #define captured into the store. Function-like macros carry
// their parameter list; Body is the replacement text as written.
type MacroRec struct {
	Name     string
	FnLike   bool
	Params   []string
	Variadic bool
	Body     string
}
