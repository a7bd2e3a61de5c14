// store.go implements the definition store: ordered, per-kind catalogs of
// every declaration recognized from the input headers. The store is mutated
// by the declaration parser during a parse and frozen afterwards; a frozen
// store is safe for concurrent reads.
package cmodel

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"
	"strings"

	"github.com/raymyers/headerscan/pkg/cpp"
	"github.com/raymyers/headerscan/pkg/eval"
)

// Kind names the record groups of the store.
const (
	KindTypes     = "types"
	KindVariables = "variables"
	KindMacros    = "macros"
	KindFnMacros  = "fnmacros"
	KindStructs   = "structs"
	KindUnions    = "unions"
	KindEnums     = "enums"
	KindFunctions = "functions"
	KindValues    = "values"
)

// Kinds lists the store's groups in canonical order.
var Kinds = []string{
	KindTypes, KindVariables, KindMacros, KindFnMacros,
	KindStructs, KindUnions, KindEnums, KindFunctions, KindValues,
}

// ErrTypedefCycle marks a resolution that ran into a plain typedef cycle.
var ErrTypedefCycle = fmt.Errorf("typedef cycle")

// table is an insertion-ordered map.
type table[T any] struct {
	names []string
	items map[string]T
}

func newTable[T any]() *table[T] {
	return &table[T]{items: make(map[string]T)}
}

func (t *table[T]) set(name string, v T) {
	if _, ok := t.items[name]; !ok {
		t.names = append(t.names, name)
	}
	t.items[name] = v
}

func (t *table[T]) get(name string) (T, bool) {
	v, ok := t.items[name]
	return v, ok
}

func (t *table[T]) has(name string) bool {
	_, ok := t.items[name]
	return ok
}

func (t *table[T]) order() []string {
	return t.names
}

// Store is the definition catalog.
type Store struct {
	types     *table[Type]
	variables *table[*VarRec]
	macros    *table[*MacroRec]
	fnmacros  *table[*MacroRec]
	structs   *table[*StructRec]
	unions    *table[*UnionRec]
	enums     *table[*EnumRec]
	functions *table[*FuncRec]
	values    *table[eval.Value]

	files      map[string]string // name → declaring file
	primitives map[string]bool
	anonCount  map[string]int
	frozen     bool
}

// NewStore creates an empty store recognizing the given primitive type
// spellings.
func NewStore(primitives []string) *Store {
	prim := make(map[string]bool, len(primitives))
	for _, p := range primitives {
		prim[p] = true
	}
	return &Store{
		types:      newTable[Type](),
		variables:  newTable[*VarRec](),
		macros:     newTable[*MacroRec](),
		fnmacros:   newTable[*MacroRec](),
		structs:    newTable[*StructRec](),
		unions:     newTable[*UnionRec](),
		enums:      newTable[*EnumRec](),
		functions:  newTable[*FuncRec](),
		values:     newTable[eval.Value](),
		files:      make(map[string]string),
		primitives: prim,
		anonCount:  make(map[string]int),
	}
}

// Finalize freezes the store. Mutations after finalization are ignored.
func (s *Store) Finalize() {
	s.frozen = true
}

// Frozen reports whether the store has been finalized.
func (s *Store) Frozen() bool {
	return s.frozen
}

// NextAnonName returns a fresh synthetic name for an anonymous aggregate of
// the given keyword ("struct", "union", "enum").
func (s *Store) NextAnonName(keyword string) string {
	n := s.anonCount[keyword]
	s.anonCount[keyword]++
	return "anon_" + keyword + strconv.Itoa(n)
}

// --- Mutators (no-ops once frozen)

// AddTypedef records a typedef.
func (s *Store) AddTypedef(name string, t Type, file string) {
	if s.frozen {
		return
	}
	s.types.set(name, t)
	s.files[name] = file
}

// AddStruct records a struct definition under its tag name; its source file
// is tracked under "struct <name>".
func (s *Store) AddStruct(rec *StructRec, file string) {
	if s.frozen {
		return
	}
	s.structs.set(rec.Name, rec)
	s.files["struct "+rec.Name] = file
}

// AddUnion records a union definition.
func (s *Store) AddUnion(rec *UnionRec, file string) {
	if s.frozen {
		return
	}
	s.unions.set(rec.Name, rec)
	s.files["union "+rec.Name] = file
}

// AddEnum records an enum definition and replicates its members into the
// values group.
func (s *Store) AddEnum(rec *EnumRec, file string) {
	if s.frozen {
		return
	}
	s.enums.set(rec.Name, rec)
	s.files["enum "+rec.Name] = file
	for _, m := range rec.Members {
		s.values.set(m.Name, eval.IntVal(m.Value))
		s.files[m.Name] = file
	}
}

// AddFunction records a function prototype.
func (s *Store) AddFunction(rec *FuncRec, file string) {
	if s.frozen {
		return
	}
	s.functions.set(rec.Name, rec)
	s.files[rec.Name] = file
}

// AddVariable records a global variable; an evaluated initializer is also
// replicated into values.
func (s *Store) AddVariable(rec *VarRec, file string) {
	if s.frozen {
		return
	}
	s.variables.set(rec.Name, rec)
	s.files[rec.Name] = file
	if rec.Init != nil && rec.Init.Kind != eval.Invalid {
		s.values.set(rec.Name, *rec.Init)
	}
}

// AddMacro records a #define; function-like macros are keyed separately.
func (s *Store) AddMacro(rec *MacroRec, file string) {
	if s.frozen {
		return
	}
	if rec.FnLike {
		s.fnmacros.set(rec.Name, rec)
	} else {
		s.macros.set(rec.Name, rec)
	}
	s.files[rec.Name] = file
}

// RemoveMacro drops a macro record (#undef).
func (s *Store) RemoveMacro(name string) {
	if s.frozen {
		return
	}
	delete(s.macros.items, name)
	delete(s.fnmacros.items, name)
	// names slices keep the stale entry; lookups go through the maps
}

// SetValue records a reduced value.
func (s *Store) SetValue(name string, v eval.Value) {
	if s.frozen {
		return
	}
	s.values.set(name, v)
}

// --- Read API

// GetType returns a typedef target.
func (s *Store) GetType(name string) (Type, bool) { return s.types.get(name) }

// GetStruct returns a struct record.
func (s *Store) GetStruct(name string) (*StructRec, bool) { return s.structs.get(name) }

// GetUnion returns a union record.
func (s *Store) GetUnion(name string) (*UnionRec, bool) { return s.unions.get(name) }

// GetEnum returns an enum record.
func (s *Store) GetEnum(name string) (*EnumRec, bool) { return s.enums.get(name) }

// GetFunction returns a function record.
func (s *Store) GetFunction(name string) (*FuncRec, bool) { return s.functions.get(name) }

// GetVariable returns a variable record.
func (s *Store) GetVariable(name string) (*VarRec, bool) { return s.variables.get(name) }

// GetMacro returns an object-like macro record.
func (s *Store) GetMacro(name string) (*MacroRec, bool) { return s.macros.get(name) }

// GetFnMacro returns a function-like macro record.
func (s *Store) GetFnMacro(name string) (*MacroRec, bool) { return s.fnmacros.get(name) }

// GetValue returns a reduced value.
func (s *Store) GetValue(name string) (eval.Value, bool) { return s.values.get(name) }

// File returns the file that declared name, if known.
func (s *Store) File(name string) string { return s.files[name] }

// Get returns the record stored under a kind and name.
func (s *Store) Get(kind, name string) (any, bool) {
	switch kind {
	case KindTypes:
		return anyGet(s.types, name)
	case KindVariables:
		return anyGet(s.variables, name)
	case KindMacros:
		return anyGet(s.macros, name)
	case KindFnMacros:
		return anyGet(s.fnmacros, name)
	case KindStructs:
		return anyGet(s.structs, name)
	case KindUnions:
		return anyGet(s.unions, name)
	case KindEnums:
		return anyGet(s.enums, name)
	case KindFunctions:
		return anyGet(s.functions, name)
	case KindValues:
		return anyGet(s.values, name)
	}
	return nil, false
}

func anyGet[T any](t *table[T], name string) (any, bool) {
	v, ok := t.get(name)
	if !ok {
		return nil, false
	}
	return v, true
}

// Names returns the insertion-ordered names of a kind. Names of macros
// removed by #undef are filtered out.
func (s *Store) Names(kind string) []string {
	switch kind {
	case KindTypes:
		return liveNames(s.types)
	case KindVariables:
		return liveNames(s.variables)
	case KindMacros:
		return liveNames(s.macros)
	case KindFnMacros:
		return liveNames(s.fnmacros)
	case KindStructs:
		return liveNames(s.structs)
	case KindUnions:
		return liveNames(s.unions)
	case KindEnums:
		return liveNames(s.enums)
	case KindFunctions:
		return liveNames(s.functions)
	case KindValues:
		return liveNames(s.values)
	}
	return nil
}

func liveNames[T any](t *table[T]) []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range t.names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := t.items[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// IsPrimitive reports whether a base spelling is a recognized primitive.
func (s *Store) IsPrimitive(base string) bool {
	return s.primitives[base]
}

// IsTypeName reports whether name is recorded as a typedef. Aggregate tags
// are not covered.
func (s *Store) IsTypeName(name string) bool {
	return s.types.has(name)
}

var signSizeWords = map[string]bool{
	"signed": true, "unsigned": true, "short": true, "long": true,
}

// isTerminal reports whether a base needs no further resolution: a primitive
// spelling (possibly multiword, like "unsigned long long") or an aggregate
// reference.
func (s *Store) isTerminal(base string) bool {
	if s.primitives[base] {
		return true
	}
	for _, kw := range []string{"struct ", "union ", "enum "} {
		if len(base) > len(kw) && base[:len(kw)] == kw {
			return true
		}
	}
	words := strings.Fields(base)
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !s.primitives[w] && !signSizeWords[w] {
			return false
		}
	}
	return true
}

// Resolve follows typedef chains transitively until the base is a primitive
// or an aggregate reference, concatenating outer modifiers after inner ones.
// A plain typedef cycle yields ErrTypedefCycle; crossing a pointer or
// function modifier legitimately breaks a cycle and resolution stops at the
// name reference instead.
func (s *Store) Resolve(t Type) (Type, error) {
	visited := make(map[string]bool)
	crossed := false
	cur := t

	for {
		if s.isTerminal(cur.Base) {
			return cur, nil
		}
		if visited[cur.Base] {
			if crossed {
				return cur, nil
			}
			return cur, fmt.Errorf("%w through %q", ErrTypedefCycle, cur.Base)
		}
		visited[cur.Base] = true

		next, ok := s.types.get(cur.Base)
		if !ok {
			// Unknown user type names stay unresolved
			return cur, nil
		}
		if hasPtrOrFunc(next.Mods) {
			crossed = true
		}
		cur = Type{
			Base:  next.Base,
			Mods:  append(append([]Modifier{}, next.Mods...), cur.Mods...),
			Quals: mergeQuals(next.Quals, cur.Quals),
		}
	}
}

// ResolveOnce resolves a user type name a single step: the base is replaced
// only when the target itself bottoms out at a primitive or aggregate.
func (s *Store) ResolveOnce(t Type) Type {
	if s.isTerminal(t.Base) {
		return t
	}
	next, ok := s.types.get(t.Base)
	if !ok || !s.isTerminal(next.Base) {
		return t
	}
	return Type{
		Base:  next.Base,
		Mods:  append(append([]Modifier{}, next.Mods...), t.Mods...),
		Quals: mergeQuals(next.Quals, t.Quals),
	}
}

func hasPtrOrFunc(mods []Modifier) bool {
	for _, m := range mods {
		switch m.(type) {
		case Pointer, Function:
			return true
		}
	}
	return false
}

func mergeQuals(inner, outer []string) []string {
	if len(inner) == 0 {
		return outer
	}
	if len(outer) == 0 {
		return inner
	}
	return append(append([]string{}, inner...), outer...)
}

// Eval reduces a name to a literal value: a recorded value, an object-like
// macro body evaluated against the store, or a variable initializer. A name
// that cannot be reduced comes back symbolic.
func (s *Store) Eval(name string) eval.Value {
	if v, ok := s.values.get(name); ok {
		return v
	}
	if rec, ok := s.macros.get(name); ok {
		ev := eval.New(s.macroTable(), s.consts(), nil)
		return ev.EvalString(rec.Body)
	}
	if rec, ok := s.variables.get(name); ok && rec.Init != nil {
		return *rec.Init
	}
	return eval.SymbolicVal(name)
}

// macroTable rebuilds a cpp macro table from the stored macro records so
// value evaluation can expand macro references.
func (s *Store) macroTable() *cpp.MacroTable {
	mt := cpp.NewMacroTable()
	for name, rec := range s.macros.items {
		mt.DefineSimple(name, rec.Body, cpp.SourceLoc{})
	}
	for name, rec := range s.fnmacros.items {
		mt.DefineFunc(name, rec.Params, rec.Body, cpp.SourceLoc{})
	}
	return mt
}

// consts returns the environment of named constants for the evaluator.
func (s *Store) consts() map[string]eval.Value {
	out := make(map[string]eval.Value, len(s.values.items))
	for name, v := range s.values.items {
		out[name] = v
	}
	return out
}

// Include merges another store into this one, overwriting records with the
// same name (pyclibrary-style composition of parsed header sets).
func (s *Store) Include(other *Store) {
	if s.frozen {
		return
	}
	for _, name := range other.types.order() {
		v, _ := other.types.get(name)
		s.types.set(name, v)
	}
	for _, name := range other.variables.order() {
		v, _ := other.variables.get(name)
		s.variables.set(name, v)
	}
	for _, name := range other.macros.order() {
		v, _ := other.macros.get(name)
		s.macros.set(name, v)
	}
	for _, name := range other.fnmacros.order() {
		v, _ := other.fnmacros.get(name)
		s.fnmacros.set(name, v)
	}
	for _, name := range other.structs.order() {
		v, _ := other.structs.get(name)
		s.structs.set(name, v)
	}
	for _, name := range other.unions.order() {
		v, _ := other.unions.get(name)
		s.unions.set(name, v)
	}
	for _, name := range other.enums.order() {
		v, _ := other.enums.get(name)
		s.enums.set(name, v)
	}
	for _, name := range other.functions.order() {
		v, _ := other.functions.get(name)
		s.functions.set(name, v)
	}
	for _, name := range other.values.order() {
		v, _ := other.values.get(name)
		s.values.set(name, v)
	}
	for name, file := range other.files {
		s.files[name] = file
	}
	for kw, n := range other.anonCount {
		if n > s.anonCount[kw] {
			s.anonCount[kw] = n
		}
	}
}

// --- Serialization

// storeSnapshot is the portable form written by gob.
type storeSnapshot struct {
	TypeNames  []string
	Types      map[string]Type
	VarNames   []string
	Vars       map[string]*VarRec
	MacNames   []string
	Macros     map[string]*MacroRec
	FnMacNames []string
	FnMacros   map[string]*MacroRec
	StrNames   []string
	Structs    map[string]*StructRec
	UniNames   []string
	Unions     map[string]*UnionRec
	EnuNames   []string
	Enums      map[string]*EnumRec
	FunNames   []string
	Functions  map[string]*FuncRec
	ValNames   []string
	Values     map[string]eval.Value
	Files      map[string]string
	Primitives []string
	AnonCount  map[string]int
}

// GobEncode implements gob.GobEncoder.
func (s *Store) GobEncode() ([]byte, error) {
	snap := storeSnapshot{
		TypeNames: liveNames(s.types), Types: s.types.items,
		VarNames: liveNames(s.variables), Vars: s.variables.items,
		MacNames: liveNames(s.macros), Macros: s.macros.items,
		FnMacNames: liveNames(s.fnmacros), FnMacros: s.fnmacros.items,
		StrNames: liveNames(s.structs), Structs: s.structs.items,
		UniNames: liveNames(s.unions), Unions: s.unions.items,
		EnuNames: liveNames(s.enums), Enums: s.enums.items,
		FunNames: liveNames(s.functions), Functions: s.functions.items,
		ValNames: liveNames(s.values), Values: s.values.items,
		Files:     s.files,
		AnonCount: s.anonCount,
	}
	for p := range s.primitives {
		snap.Primitives = append(snap.Primitives, p)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (s *Store) GobDecode(data []byte) error {
	var snap storeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}
	fresh := NewStore(snap.Primitives)
	fresh.files = snap.Files
	if snap.AnonCount != nil {
		fresh.anonCount = snap.AnonCount
	}
	restore(fresh.types, snap.TypeNames, snap.Types)
	restore(fresh.variables, snap.VarNames, snap.Vars)
	restore(fresh.macros, snap.MacNames, snap.Macros)
	restore(fresh.fnmacros, snap.FnMacNames, snap.FnMacros)
	restore(fresh.structs, snap.StrNames, snap.Structs)
	restore(fresh.unions, snap.UniNames, snap.Unions)
	restore(fresh.enums, snap.EnuNames, snap.Enums)
	restore(fresh.functions, snap.FunNames, snap.Functions)
	restore(fresh.values, snap.ValNames, snap.Values)
	*s = *fresh
	return nil
}

func restore[T any](t *table[T], names []string, items map[string]T) {
	for _, name := range names {
		if v, ok := items[name]; ok {
			t.set(name, v)
		}
	}
}

// EqualStores compares two stores structurally: same kinds, same insertion
// order, same records.
func EqualStores(a, b *Store) bool {
	for _, kind := range Kinds {
		an, bn := a.Names(kind), b.Names(kind)
		if len(an) != len(bn) {
			return false
		}
		for i := range an {
			if an[i] != bn[i] {
				return false
			}
		}
	}
	for _, name := range a.Names(KindTypes) {
		at, _ := a.types.get(name)
		bt, ok := b.types.get(name)
		if !ok || !Equal(at, bt) {
			return false
		}
	}
	for _, name := range a.Names(KindValues) {
		av, _ := a.values.get(name)
		bv, ok := b.values.get(name)
		if !ok || !eval.Equal(av, bv) {
			return false
		}
	}
	return true
}

// Dump renders the store as plain data grouped by kind, for YAML output.
func (s *Store) Dump() map[string]any {
	out := make(map[string]any)

	types := make(map[string]any)
	for _, name := range s.Names(KindTypes) {
		t, _ := s.types.get(name)
		types[name] = t.dump()
	}
	out[KindTypes] = types

	vars := make(map[string]any)
	for _, name := range s.Names(KindVariables) {
		v, _ := s.variables.get(name)
		entry := map[string]any{"type": v.Type.dump()}
		if v.Init != nil {
			entry["value"] = v.Init.Dump()
		}
		vars[name] = entry
	}
	out[KindVariables] = vars

	macros := make(map[string]any)
	for _, name := range s.Names(KindMacros) {
		m, _ := s.macros.get(name)
		macros[name] = m.Body
	}
	out[KindMacros] = macros

	fnmacros := make(map[string]any)
	for _, name := range s.Names(KindFnMacros) {
		m, _ := s.fnmacros.get(name)
		fnmacros[name] = map[string]any{"params": m.Params, "body": m.Body}
	}
	out[KindFnMacros] = fnmacros

	structs := make(map[string]any)
	for _, name := range s.Names(KindStructs) {
		structs[name] = dumpFields((s.structs.items[name]).Fields, s.structs.items[name].Pack)
	}
	out[KindStructs] = structs

	unions := make(map[string]any)
	for _, name := range s.Names(KindUnions) {
		unions[name] = dumpFields(s.unions.items[name].Fields, 0)
	}
	out[KindUnions] = unions

	enums := make(map[string]any)
	for _, name := range s.Names(KindEnums) {
		rec := s.enums.items[name]
		members := make(map[string]int64, len(rec.Members))
		for _, m := range rec.Members {
			members[m.Name] = m.Value
		}
		enums[name] = members
	}
	out[KindEnums] = enums

	funcs := make(map[string]any)
	for _, name := range s.Names(KindFunctions) {
		rec := s.functions.items[name]
		params := make([]any, len(rec.Params))
		for i, p := range rec.Params {
			params[i] = map[string]any{"name": p.Name, "type": p.Type.dump()}
		}
		entry := map[string]any{"return": rec.Return.dump(), "params": params}
		if rec.CallConv != "" {
			entry["callconv"] = rec.CallConv
		}
		if rec.Variadic {
			entry["variadic"] = true
		}
		funcs[name] = entry
	}
	out[KindFunctions] = funcs

	values := make(map[string]any)
	for _, name := range s.Names(KindValues) {
		v, _ := s.values.get(name)
		values[name] = v.Dump()
	}
	out[KindValues] = values

	return out
}

func dumpFields(fields []Field, pack int) map[string]any {
	out := make([]any, len(fields))
	for i, f := range fields {
		entry := map[string]any{"name": f.Name, "type": f.Type.dump()}
		if f.BitSize >= 0 {
			entry["bits"] = f.BitSize
		}
		if f.Default != nil {
			entry["default"] = f.Default.Dump()
		}
		out[i] = entry
	}
	result := map[string]any{"fields": out}
	if pack > 0 {
		result["pack"] = pack
	}
	return result
}
