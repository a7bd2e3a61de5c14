package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/raymyers/headerscan/pkg/cmodel"
	"github.com/raymyers/headerscan/pkg/eval"
)

func sampleStore() *cmodel.Store {
	s := cmodel.NewStore([]string{"int", "char", "void"})
	s.AddTypedef("handle_t", cmodel.Type{Base: "void", Mods: []cmodel.Modifier{cmodel.Pointer{}}}, "a.h")
	s.AddStruct(&cmodel.StructRec{
		Name: "point",
		Fields: []cmodel.Field{
			{Name: "x", Type: cmodel.Type{Base: "int"}, BitSize: -1},
			{Name: "y", Type: cmodel.Type{Base: "int"}, BitSize: -1},
		},
		Pack: 4,
	}, "a.h")
	s.AddEnum(&cmodel.EnumRec{
		Name:    "color",
		Members: []cmodel.EnumMember{{Name: "red", Value: 0}, {Name: "green", Value: 1}},
	}, "a.h")
	s.AddMacro(&cmodel.MacroRec{Name: "N", Body: "4"}, "a.h")
	s.SetValue("N", eval.IntVal(4))
	s.AddFunction(&cmodel.FuncRec{
		Name:   "get",
		Return: cmodel.Type{Base: "int"},
		Params: []cmodel.Param{{Name: "i", Type: cmodel.Type{Base: "int"}}},
	}, "a.h")
	s.Finalize()
	return s
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.cache")

	store := sampleStore()
	inputHash := HashInputs(map[string]string{"a.h": "int x;"})
	configHash, err := HashConfig(map[string]any{"primitives": []string{"int"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := Write(path, store, inputHash, configHash); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, ok, err := Load(path, inputHash, configHash)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("cache should hit with matching hashes")
	}

	if !cmodel.EqualStores(store, loaded) {
		t.Error("reloaded store differs from the original")
	}

	// Spot-check structural details survive serialization
	rec, ok := loaded.GetStruct("point")
	if !ok || rec.Pack != 4 || len(rec.Fields) != 2 {
		t.Errorf("struct point = %+v", rec)
	}
	ht, ok := loaded.GetType("handle_t")
	if !ok || len(ht.Mods) != 1 {
		t.Errorf("handle_t = %v", ht)
	}
	if _, isPtr := ht.Mods[0].(cmodel.Pointer); !isPtr {
		t.Errorf("handle_t modifier = %v, want pointer", ht.Mods[0])
	}
	if v, ok := loaded.GetValue("green"); !ok || v.Int != 1 {
		t.Errorf("values[green] = %v, want 1", v)
	}
	if !loaded.Frozen() {
		t.Error("loaded store should be frozen")
	}
}

func TestCacheMissOnInputChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.cache")

	store := sampleStore()
	configHash, _ := HashConfig("cfg")

	if err := Write(path, store, HashInputs(map[string]string{"a.h": "int x;"}), configHash); err != nil {
		t.Fatal(err)
	}

	_, ok, err := Load(path, HashInputs(map[string]string{"a.h": "int y;"}), configHash)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("changed input must miss the cache")
	}
}

func TestCacheMissOnConfigChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.cache")

	store := sampleStore()
	inputHash := HashInputs(map[string]string{"a.h": "int x;"})
	h1, _ := HashConfig(map[string]int{"max": 1})
	h2, _ := HashConfig(map[string]int{"max": 2})

	if err := Write(path, store, inputHash, h1); err != nil {
		t.Fatal(err)
	}

	_, ok, err := Load(path, inputHash, h2)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("changed config must miss the cache")
	}
}

func TestReadStoreIgnoresFingerprints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defs.cache")

	store := sampleStore()
	if err := Write(path, store, "input-a", "config-a"); err != nil {
		t.Fatal(err)
	}

	loaded, err := ReadStore(path)
	if err != nil {
		t.Fatalf("ReadStore: %v", err)
	}
	if !cmodel.EqualStores(store, loaded) {
		t.Error("ReadStore should return the stored definitions regardless of fingerprints")
	}
}

func TestReadStoreErrors(t *testing.T) {
	if _, err := ReadStore(filepath.Join(t.TempDir(), "absent.cache")); err == nil {
		t.Error("missing base store must error")
	}

	path := filepath.Join(t.TempDir(), "junk.cache")
	if err := os.WriteFile(path, []byte("not a cache"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadStore(path); err == nil {
		t.Error("corrupt base store must error")
	}
}

func TestCacheMissingFile(t *testing.T) {
	_, ok, err := Load(filepath.Join(t.TempDir(), "absent.cache"), "a", "b")
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if ok {
		t.Error("missing file is a miss")
	}
}

func TestCacheCorruptFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.cache")
	if err := os.WriteFile(path, []byte("not a cache"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, ok, err := Load(path, "a", "b")
	if err != nil {
		t.Fatalf("corrupt file should not error: %v", err)
	}
	if ok {
		t.Error("corrupt file is a miss")
	}
}

func TestHashInputsOrderIndependent(t *testing.T) {
	a := HashInputs(map[string]string{"x.h": "1", "y.h": "2"})
	b := HashInputs(map[string]string{"y.h": "2", "x.h": "1"})
	if a != b {
		t.Error("input hash must not depend on map order")
	}

	c := HashInputs(map[string]string{"x.h": "1", "y.h": "changed"})
	if a == c {
		t.Error("content change must change the hash")
	}
}
