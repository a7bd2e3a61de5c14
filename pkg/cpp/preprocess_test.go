package cpp

import (
	"strings"
	"testing"
)

func TestDefineAndExpand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "object macro in code",
			input:    "#define N 8\nint a[N];\n",
			expected: "int a[8];",
		},
		{
			name:     "function macro in code",
			input:    "#define SQ(x) ((x)*(x))\nint a = SQ(3);\n",
			expected: "int a = ((3)*(3));",
		},
		{
			name:     "undef stops expansion",
			input:    "#define N 8\n#undef N\nint a[N];\n",
			expected: "int a[N];",
		},
		{
			name:     "redefinition silently replaces",
			input:    "#define N 8\n#define N 16\nint a[N];\n",
			expected: "int a[16];",
		},
		{
			name:     "continuation line in define",
			input:    "#define LONG 1 + \\\n2\nint a = LONG;\n",
			expected: "int a = 1 + 2;",
		},
		{
			name:     "directives removed from output",
			input:    "#define A 1\n#pragma pack(4)\nint x;\n",
			expected: "int x;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := preprocessString(t, tt.input, Options{})
			if normalizeWhitespace(got) != normalizeWhitespace(tt.expected) {
				t.Errorf("got %q, want %q", normalizeWhitespace(got), tt.expected)
			}
		})
	}
}

func TestCmdlineDefines(t *testing.T) {
	got, pp := preprocessString(t, "int a = FOO;\n#ifdef BAR\nint b;\n#endif\n",
		Options{Defines: []string{"FOO=7", "BAR"}})

	if !strings.Contains(got, "int a = 7") {
		t.Errorf("FOO should expand to 7: %q", got)
	}
	if !strings.Contains(got, "int b") {
		t.Error("BAR should be defined")
	}
	if body := pp.Macros().Lookup("BAR").Body(); body != "1" {
		t.Errorf("bare -D defines as 1, got %q", body)
	}
}

// Applying the preprocessor to already-preprocessed output is the identity.
func TestPreprocessIdempotent(t *testing.T) {
	source := `#define N 4
#define SQ(x) ((x)*(x))
#ifdef N
int a[N];
int b = SQ(2);
#endif
struct S { int x; };
`
	first, _ := preprocessString(t, source, Options{})
	second, _ := preprocessString(t, first, Options{})

	if first != second {
		t.Errorf("second pass changed output:\nfirst:  %q\nsecond: %q", first, second)
	}
}

func TestUnknownDirective(t *testing.T) {
	got, pp := preprocessString(t, "#frobnicate all the things\nint x;\n", Options{})
	if !strings.Contains(got, "int x") {
		t.Error("code after unknown directive should survive")
	}
	if len(pp.Diagnostics()) == 0 {
		t.Error("unknown directive should produce a warning")
	}
}

func TestUnterminatedStringFatal(t *testing.T) {
	pp := NewPreprocessor(Options{})
	_, _, err := pp.Preprocess("char *s = \"broken;\nint x;\n", "test.h")
	if err == nil {
		t.Error("unterminated string should be fatal")
	}
}

func TestDefineOrderHooks(t *testing.T) {
	var defined []string
	var undefined []string

	pp := NewPreprocessor(Options{})
	pp.OnDefine = func(m *Macro) { defined = append(defined, m.Name) }
	pp.OnUndef = func(name string) { undefined = append(undefined, name) }

	source := "#define A 1\n#define B 2\n#undef A\n#define C 3\n"
	if _, _, err := pp.Preprocess(source, "test.h"); err != nil {
		t.Fatal(err)
	}

	wantDef := []string{"A", "B", "C"}
	if len(defined) != len(wantDef) {
		t.Fatalf("defined = %v, want %v", defined, wantDef)
	}
	for i := range wantDef {
		if defined[i] != wantDef[i] {
			t.Errorf("defined[%d] = %s, want %s", i, defined[i], wantDef[i])
		}
	}
	if len(undefined) != 1 || undefined[0] != "A" {
		t.Errorf("undefined = %v, want [A]", undefined)
	}
}

func TestInactiveRegionsNotExpanded(t *testing.T) {
	source := `#define A 1
#ifdef MISSING
#define B 2
int a = A;
#endif
`
	got, pp := preprocessString(t, source, Options{})
	if strings.Contains(got, "int a") {
		t.Error("inactive region leaked into output")
	}
	if pp.Macros().IsDefined("B") {
		t.Error("#define inside inactive region must not register")
	}
}

func TestMacroTableSnapshot(t *testing.T) {
	mt := NewMacroTable()
	mt.DefineSimple("A", "1", SourceLoc{})
	snap := mt.Snapshot()

	mt.DefineSimple("B", "2", SourceLoc{})
	mt.Undefine("A")

	mt.Restore(snap)
	if !mt.IsDefined("A") {
		t.Error("restore should bring back A")
	}
	if mt.IsDefined("B") {
		t.Error("restore should drop B")
	}
}
