package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raymyers/headerscan/pkg/cmodel"
	"github.com/raymyers/headerscan/pkg/eval"
)

// parseHeader runs the pipeline over one in-memory header.
func parseHeader(t *testing.T, source string) *Parser {
	t.Helper()
	p, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.AddSource("test.h", source)
	if err := p.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	return p
}

func TestMacroValues(t *testing.T) {
	p := parseHeader(t, `#define M
#if defined M
#define A 1
#endif
#if !defined N
#define B 2
#endif
`)
	store := p.Store()

	for _, name := range []string{"M", "A", "B"} {
		if _, ok := store.GetMacro(name); !ok {
			t.Errorf("macros should contain %s", name)
		}
	}
	if _, ok := store.GetMacro("N"); ok {
		t.Error("macros should not contain N")
	}
	if v, ok := store.GetValue("A"); !ok || v.Int != 1 {
		t.Errorf("values[A] = %v, want 1", v)
	}
	if v, ok := store.GetValue("B"); !ok || v.Int != 2 {
		t.Errorf("values[B] = %v, want 2", v)
	}
}

func TestFnMacrosRecorded(t *testing.T) {
	p := parseHeader(t, `#define BIT 0x01
#define SETBIT(x,b) ((x) |= (b))
#define SETBITS(x,y) (SETBIT(x, BIT), SETBIT(y, BIT))
`)
	store := p.Store()

	for _, name := range []string{"SETBIT", "SETBITS"} {
		rec, ok := store.GetFnMacro(name)
		if !ok {
			t.Fatalf("fnmacros should contain %s", name)
		}
		if len(rec.Params) != 2 {
			t.Errorf("%s params = %v, want 2 entries", name, rec.Params)
		}
	}
	if _, ok := store.GetMacro("BIT"); !ok {
		t.Error("BIT should be an object-like macro")
	}
	if v, ok := store.GetValue("BIT"); !ok || v.Int != 1 {
		t.Errorf("values[BIT] = %v, want 1", v)
	}
}

func TestMacroRedefinition(t *testing.T) {
	p := parseHeader(t, "#define N 8\n#define N 16\n")
	if v, ok := p.Store().GetValue("N"); !ok || v.Int != 16 {
		t.Errorf("redefined N = %v, want 16", v)
	}
}

func TestEnumWithExpressionValues(t *testing.T) {
	p := parseHeader(t, `#define V 128
enum E { a=(V|1), b=6, c, d };
`)
	store := p.Store()

	rec, ok := store.GetEnum("E")
	if !ok {
		t.Fatal("enum E not recorded")
	}
	want := []cmodel.EnumMember{
		{Name: "a", Value: 129},
		{Name: "b", Value: 6},
		{Name: "c", Value: 7},
		{Name: "d", Value: 8},
	}
	if len(rec.Members) != len(want) {
		t.Fatalf("members = %v, want %v", rec.Members, want)
	}
	for i, m := range want {
		if rec.Members[i] != m {
			t.Errorf("member %d = %v, want %v", i, rec.Members[i], m)
		}
	}

	// Members replicate into values
	for _, m := range want {
		if v, ok := store.GetValue(m.Name); !ok || v.Int != m.Value {
			t.Errorf("values[%s] = %v, want %d", m.Name, v, m.Value)
		}
	}
}

func TestEnumMemberReferencesEarlierMember(t *testing.T) {
	p := parseHeader(t, "enum E { first = 5, second = first, third };\n")
	rec, ok := p.Store().GetEnum("E")
	if !ok {
		t.Fatal("enum E not recorded")
	}
	if rec.Members[1].Value != 5 || rec.Members[2].Value != 6 {
		t.Errorf("members = %v", rec.Members)
	}
}

func TestStructPack(t *testing.T) {
	p := parseHeader(t, `#pragma pack()
#pragma pack(4)
#pragma pack(push, r1, 16)
#pragma pack(pop)
struct S { int x; };
`)
	rec, ok := p.Store().GetStruct("S")
	if !ok {
		t.Fatal("struct S not recorded")
	}
	if rec.Pack != 4 {
		t.Errorf("pack = %d, want 4", rec.Pack)
	}
}

func TestComplexDeclarators(t *testing.T) {
	p := parseHeader(t, "int (*prec_ptr_of_arr)[1], *(prec_arr_of_ptr[1]);\n")
	store := p.Store()

	first, ok := store.GetVariable("prec_ptr_of_arr")
	if !ok {
		t.Fatal("prec_ptr_of_arr not recorded")
	}
	if first.Type.Base != "int" || len(first.Type.Mods) != 2 {
		t.Fatalf("first type = %v", first.Type)
	}
	if arr, ok := first.Type.Mods[0].(cmodel.Array); !ok || arr.Size != 1 {
		t.Errorf("first inner mod = %v, want array of 1", first.Type.Mods[0])
	}
	if _, ok := first.Type.Mods[1].(cmodel.Pointer); !ok {
		t.Errorf("first outer mod = %v, want pointer", first.Type.Mods[1])
	}

	second, ok := store.GetVariable("prec_arr_of_ptr")
	if !ok {
		t.Fatal("prec_arr_of_ptr not recorded")
	}
	if _, ok := second.Type.Mods[0].(cmodel.Pointer); !ok {
		t.Errorf("second inner mod = %v, want pointer", second.Type.Mods[0])
	}
	if arr, ok := second.Type.Mods[1].(cmodel.Array); !ok || arr.Size != 1 {
		t.Errorf("second outer mod = %v, want array of 1", second.Type.Mods[1])
	}
}

func TestNestedDeclarator(t *testing.T) {
	p := parseHeader(t, "int ((*x[4])[2]);\n")
	rec, ok := p.Store().GetVariable("x")
	if !ok {
		t.Fatal("x not recorded")
	}
	// x: array-of-4 of pointer to array-of-2 of int; outermost last
	mods := rec.Type.Mods
	if len(mods) != 3 {
		t.Fatalf("mods = %v, want 3", mods)
	}
	if arr, ok := mods[0].(cmodel.Array); !ok || arr.Size != 2 {
		t.Errorf("innermost = %v, want array of 2", mods[0])
	}
	if _, ok := mods[1].(cmodel.Pointer); !ok {
		t.Errorf("middle = %v, want pointer", mods[1])
	}
	if arr, ok := mods[2].(cmodel.Array); !ok || arr.Size != 4 {
		t.Errorf("outermost = %v, want array of 4", mods[2])
	}
}

func TestTypedefResolution(t *testing.T) {
	p := parseHeader(t, `typedef int type_int;
typedef type_int type_type_int;
type_type_int y;
`)
	store := p.Store()

	rec, ok := store.GetVariable("y")
	if !ok {
		t.Fatal("y not recorded")
	}
	resolved, err := store.Resolve(rec.Type)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Base != "int" || len(resolved.Mods) != 0 {
		t.Errorf("resolved = %v, want plain int", resolved)
	}
}

func TestTypedefCycleWarning(t *testing.T) {
	p := parseHeader(t, `typedef A_t B_t;
typedef B_t A_t;
A_t v;
`)
	store := p.Store()
	rec, ok := store.GetVariable("v")
	if !ok {
		t.Fatal("v not recorded")
	}
	if _, err := store.Resolve(rec.Type); err == nil {
		t.Error("expected a cycle error")
	}
}

func TestMultipleDeclaratorsShareBase(t *testing.T) {
	p := parseHeader(t, "unsigned long a, *b, c[2];\n")
	store := p.Store()

	for _, name := range []string{"a", "b", "c"} {
		rec, ok := store.GetVariable(name)
		if !ok {
			t.Fatalf("%s not recorded", name)
		}
		if rec.Type.Base != "unsigned long" {
			t.Errorf("%s base = %q, want unsigned long", name, rec.Type.Base)
		}
	}

	b, _ := store.GetVariable("b")
	if len(b.Type.Mods) != 1 {
		t.Errorf("b should be a pointer: %v", b.Type)
	}
	c, _ := store.GetVariable("c")
	if arr, ok := c.Type.Mods[0].(cmodel.Array); !ok || arr.Size != 2 {
		t.Errorf("c should be an array of 2: %v", c.Type)
	}
}

func TestStructMembers(t *testing.T) {
	p := parseHeader(t, `struct flags {
    unsigned int ready : 1;
    unsigned int error : 2;
    int value;
    int tolerated = 1;
};
`)
	rec, ok := p.Store().GetStruct("flags")
	if !ok {
		t.Fatal("struct flags not recorded")
	}
	if len(rec.Fields) != 4 {
		t.Fatalf("fields = %d, want 4", len(rec.Fields))
	}
	if rec.Fields[0].BitSize != 1 || rec.Fields[1].BitSize != 2 {
		t.Errorf("bit widths = %d, %d, want 1, 2", rec.Fields[0].BitSize, rec.Fields[1].BitSize)
	}
	if rec.Fields[2].BitSize != -1 {
		t.Errorf("value should have no bit width")
	}
	def := rec.Fields[3].Default
	if def == nil || def.Kind != eval.Int || def.Int != 1 {
		t.Errorf("tolerated default = %v, want 1", def)
	}
}

func TestAnonymousNestedAggregates(t *testing.T) {
	p := parseHeader(t, `struct outer {
    int a;
    union { int c; float d; };
    struct { int b; } named;
};
`)
	store := p.Store()

	rec, ok := store.GetStruct("outer")
	if !ok {
		t.Fatal("struct outer not recorded")
	}
	if len(rec.Fields) != 3 {
		t.Fatalf("fields = %d, want 3", len(rec.Fields))
	}

	anon := rec.Fields[1]
	if anon.Name != "" {
		t.Errorf("anonymous member name = %q, want empty", anon.Name)
	}
	if !strings.HasPrefix(anon.Type.Base, "union anon_union") {
		t.Errorf("anonymous member type = %q", anon.Type.Base)
	}
	inner, ok := store.GetUnion(strings.TrimPrefix(anon.Type.Base, "union "))
	if !ok {
		t.Fatal("inline union not registered")
	}
	if len(inner.Fields) != 2 {
		t.Errorf("inline union fields = %d, want 2", len(inner.Fields))
	}

	named := rec.Fields[2]
	if named.Name != "named" {
		t.Errorf("named member = %q", named.Name)
	}
	if !strings.HasPrefix(named.Type.Base, "struct anon_struct") {
		t.Errorf("named member type = %q", named.Type.Base)
	}
}

func TestFunctionPrototypes(t *testing.T) {
	p := parseHeader(t, `int add(int a, int b);
void noargs(void);
int printf(const char *fmt, ...);
int __stdcall winapi_fn(int h);
extern int linked(void);
`)
	store := p.Store()

	add, ok := store.GetFunction("add")
	if !ok {
		t.Fatal("add not recorded")
	}
	if add.Return.Base != "int" || len(add.Params) != 2 {
		t.Errorf("add = %+v", add)
	}
	if add.Params[0].Name != "a" || add.Params[1].Name != "b" {
		t.Errorf("add params = %v", add.Params)
	}

	noargs, ok := store.GetFunction("noargs")
	if !ok {
		t.Fatal("noargs not recorded")
	}
	if len(noargs.Params) != 0 {
		t.Errorf("void parameter list should be empty, got %v", noargs.Params)
	}

	pf, ok := store.GetFunction("printf")
	if !ok {
		t.Fatal("printf not recorded")
	}
	if !pf.Variadic {
		t.Error("printf should be variadic")
	}
	fmtParam := pf.Params[0]
	if len(fmtParam.Type.Mods) != 1 {
		t.Errorf("fmt should be a pointer: %v", fmtParam.Type)
	}

	win, ok := store.GetFunction("winapi_fn")
	if !ok {
		t.Fatal("winapi_fn not recorded")
	}
	if win.CallConv != "__stdcall" {
		t.Errorf("callconv = %q, want __stdcall", win.CallConv)
	}

	linked, ok := store.GetFunction("linked")
	if !ok {
		t.Fatal("linked not recorded")
	}
	if len(linked.Storage) != 1 || linked.Storage[0] != "extern" {
		t.Errorf("storage = %v, want [extern]", linked.Storage)
	}
}

func TestFunctionPointerVariable(t *testing.T) {
	p := parseHeader(t, "int (*callback)(int, int);\n")
	store := p.Store()

	rec, ok := store.GetVariable("callback")
	if !ok {
		t.Fatal("callback should be a variable, not a function")
	}
	mods := rec.Type.Mods
	if len(mods) != 2 {
		t.Fatalf("mods = %v", mods)
	}
	if fn, ok := mods[0].(cmodel.Function); !ok || len(fn.Params) != 2 {
		t.Errorf("inner mod = %v, want function with 2 params", mods[0])
	}
	if _, ok := mods[1].(cmodel.Pointer); !ok {
		t.Errorf("outer mod = %v, want pointer", mods[1])
	}
}

func TestFunctionBodySkipped(t *testing.T) {
	p := parseHeader(t, `int add(int a, int b) { return a + b; }
int after;
`)
	store := p.Store()

	if _, ok := store.GetFunction("add"); !ok {
		t.Error("prototype of inline definition should be recorded")
	}
	if _, ok := store.GetVariable("after"); !ok {
		t.Error("parsing should continue after the body")
	}
}

func TestUnknownTypeTolerated(t *testing.T) {
	p := parseHeader(t, "someType X;\nint after;\n")
	store := p.Store()

	rec, ok := store.GetVariable("X")
	if !ok {
		t.Fatal("X not recorded")
	}
	if rec.Type.Base != "someType" {
		t.Errorf("base = %q, want someType", rec.Type.Base)
	}
	if _, ok := store.GetVariable("after"); !ok {
		t.Error("parsing should continue")
	}
}

func TestSyntaxErrorRecovery(t *testing.T) {
	p := parseHeader(t, `int ok1;
int $$$ *** garbage;
int ok2;
`)
	store := p.Store()

	if _, ok := store.GetVariable("ok1"); !ok {
		t.Error("ok1 should parse")
	}
	if _, ok := store.GetVariable("ok2"); !ok {
		t.Error("ok2 should parse after recovery")
	}
	if len(p.Diagnostics()) == 0 {
		t.Error("expected a warning for the dropped declaration")
	}
}

func TestVariableInitializers(t *testing.T) {
	p := parseHeader(t, `#define N 4
int scalar = N * 2;
int arr[3] = {1, 2, 3};
char *msg = "hi";
int sym = external_call(1);
`)
	store := p.Store()

	if v, ok := store.GetValue("scalar"); !ok || v.Int != 8 {
		t.Errorf("scalar = %v, want 8", v)
	}

	arr, ok := store.GetVariable("arr")
	if !ok || arr.Init == nil {
		t.Fatal("arr initializer missing")
	}
	if arr.Init.Kind != eval.List || len(arr.Init.List) != 3 || arr.Init.List[2].Int != 3 {
		t.Errorf("arr init = %v", arr.Init)
	}

	msg, ok := store.GetVariable("msg")
	if !ok || msg.Init == nil || msg.Init.Kind != eval.Str || msg.Init.Str != "hi" {
		t.Errorf("msg init = %v", msg.Init)
	}

	sym, ok := store.GetVariable("sym")
	if !ok || sym.Init == nil || sym.Init.Kind != eval.Symbolic {
		t.Errorf("sym init = %v, want symbolic", sym.Init)
	}
}

func TestDeclspecReplacement(t *testing.T) {
	p := parseHeader(t, "__declspec(dllexport) int exported(void);\n")
	if _, ok := p.Store().GetFunction("exported"); !ok {
		t.Error("__declspec wrapper should be stripped by the replacements table")
	}
}

func TestModifierWithArgument(t *testing.T) {
	p := parseHeader(t, `char __allowed("N") *ptr;
int near nptr;
`)
	store := p.Store()

	rec, ok := store.GetVariable("ptr")
	if !ok {
		t.Fatal("ptr not recorded")
	}
	ptrMod, ok := rec.Type.Mods[0].(cmodel.Pointer)
	if !ok {
		t.Fatalf("ptr should carry a pointer modifier: %v", rec.Type)
	}
	found := false
	for _, q := range ptrMod.Quals {
		if strings.HasPrefix(q, "__allowed(") {
			found = true
		}
	}
	if !found {
		t.Errorf("__allowed qualifier not preserved on the pointer: %v", ptrMod.Quals)
	}

	np, ok := store.GetVariable("nptr")
	if !ok {
		t.Fatal("nptr not recorded")
	}
	foundNear := false
	for _, q := range np.Type.Quals {
		if q == "near" {
			foundNear = true
		}
	}
	if !foundNear {
		t.Errorf("near qualifier not preserved: %v", np.Type.Quals)
	}
}

func TestTypedefStructCombined(t *testing.T) {
	p := parseHeader(t, `typedef struct point { int x; int y; } point_t, *point_ptr;
`)
	store := p.Store()

	if _, ok := store.GetStruct("point"); !ok {
		t.Fatal("struct point not recorded")
	}
	pt, ok := store.GetType("point_t")
	if !ok || pt.Base != "struct point" {
		t.Errorf("point_t = %v", pt)
	}
	pp, ok := store.GetType("point_ptr")
	if !ok || len(pp.Mods) != 1 {
		t.Errorf("point_ptr = %v, want pointer to struct point", pp)
	}
}

func TestConfigDefaultsRegistry(t *testing.T) {
	defer ResetDefaults()

	cfg := Defaults()
	cfg.PrimitiveTypes = append(cfg.PrimitiveTypes, "quad_t")
	SetDefaults(cfg)

	got := Defaults()
	found := false
	for _, p := range got.PrimitiveTypes {
		if p == "quad_t" {
			found = true
		}
	}
	if !found {
		t.Error("SetDefaults should install the custom primitive")
	}

	ResetDefaults()
	got = Defaults()
	for _, p := range got.PrimitiveTypes {
		if p == "quad_t" {
			t.Error("ResetDefaults should restore the baseline")
		}
	}
}

func TestEncodingDecode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latin1.h")
	// A Latin-1 é (0xE9) in a comment; invalid UTF-8 as-is
	content := []byte("/* caf\xe9 */\nint x;\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Encoding = "ISO-8859-1"
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.AddFile(path); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := p.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok := p.Store().GetVariable("x"); !ok {
		t.Error("declaration after decoded comment should parse")
	}
}

func TestHeaderSearchPaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "found.h"), []byte("int y;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.HeaderSearchPaths = []string{dir}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.AddFile("found.h"); err != nil {
		t.Fatalf("search-path resolution failed: %v", err)
	}
	if err := p.AddFile("missing.h"); err == nil {
		t.Error("unresolvable header should error")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parser.yaml")
	content := `encoding: utf-8
primitive_types: [void, int, quad_t]
max_expansion: 32
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxExpansion != 32 {
		t.Errorf("max_expansion = %d, want 32", cfg.MaxExpansion)
	}
	found := false
	for _, p := range cfg.PrimitiveTypes {
		if p == "quad_t" {
			found = true
		}
	}
	if !found {
		t.Errorf("primitive_types not loaded: %v", cfg.PrimitiveTypes)
	}
}

func TestCopyFromBaseline(t *testing.T) {
	base, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	base.AddSource("base.h", `#define BASE 7
typedef int base_t;
enum { FLAG = 2 };
`)
	if err := base.Process(); err != nil {
		t.Fatal(err)
	}

	p, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	p.CopyFrom(base.Store())
	p.AddSource("next.h", "base_t v = BASE + FLAG;\n")
	if err := p.Process(); err != nil {
		t.Fatal(err)
	}
	store := p.Store()

	rec, ok := store.GetVariable("v")
	if !ok {
		t.Fatal("v not recorded")
	}
	resolved, err := store.Resolve(rec.Type)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Base != "int" {
		t.Errorf("base_t from the baseline should resolve: %v", resolved)
	}
	if v, ok := store.GetValue("v"); !ok || v.Int != 9 {
		t.Errorf("v = %v, want 9 (baseline macro and enum member in scope)", v)
	}
}

func TestProcessCachedRoundTrip(t *testing.T) {
	source := `typedef int handle;
enum state { idle, busy };
`
	cachePath := filepath.Join(t.TempDir(), "defs.cache")

	p1, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	p1.AddSource("h.h", source)
	fromCache, err := p1.ProcessCached(cachePath)
	if err != nil {
		t.Fatalf("first ProcessCached: %v", err)
	}
	if fromCache {
		t.Fatal("first run cannot hit the cache")
	}

	p2, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	p2.AddSource("h.h", source)
	fromCache, err = p2.ProcessCached(cachePath)
	if err != nil {
		t.Fatalf("second ProcessCached: %v", err)
	}
	if !fromCache {
		t.Fatal("identical inputs and config should hit the cache")
	}

	if !cmodel.EqualStores(p1.Store(), p2.Store()) {
		t.Error("cached store differs from parsed store")
	}
}

func TestDiagnosticsSurfaceWarnings(t *testing.T) {
	p := parseHeader(t, "#mystery\nint x;\n")
	if len(p.Diagnostics()) == 0 {
		t.Error("unknown directive should surface as a warning")
	}
	if _, ok := p.Store().GetVariable("x"); !ok {
		t.Error("parse should continue past warnings")
	}
}
