// parser.go is the pipeline facade: it loads headers (resolving search
// paths, decoding text, applying replacements), preprocesses them with a
// shared macro table, parses declarations, and finalizes the store.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/raymyers/headerscan/pkg/cache"
	"github.com/raymyers/headerscan/pkg/cmodel"
	"github.com/raymyers/headerscan/pkg/cpp"
	"github.com/raymyers/headerscan/pkg/eval"
)

// Parser drives the full pipeline over a set of headers. A Parser is not
// safe for concurrent use; the store it produces is, once finalized.
type Parser struct {
	cfg   Config
	store *cmodel.Store
	pp    *cpp.Preprocessor
	diags *cpp.DiagList

	consts   map[string]eval.Value
	typedefs map[string]bool

	fileOrder   []string
	sources     map[string]string
	currentFile string

	replacements []replacement
	processed    bool
}

type replacement struct {
	pattern *regexp.Regexp
	repl    string
}

// New creates a parser with the given configuration.
func New(cfg Config) (*Parser, error) {
	p := &Parser{
		cfg:      cfg,
		store:    cmodel.NewStore(cfg.PrimitiveTypes),
		consts:   make(map[string]eval.Value),
		typedefs: make(map[string]bool),
		sources:  make(map[string]string),
	}

	p.pp = cpp.NewPreprocessor(cpp.Options{MaxExpansion: cfg.MaxExpansion})
	p.diags = p.pp.DiagSink()

	for pattern, repl := range cfg.Replacements {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad replacement pattern %q: %w", pattern, err)
		}
		p.replacements = append(p.replacements, replacement{pattern: re, repl: repl})
	}

	// Mirror macro definitions into the store in source order, reducing
	// object-like macros to values where possible.
	p.pp.OnDefine = func(m *cpp.Macro) {
		if m == nil {
			return
		}
		rec := &cmodel.MacroRec{
			Name:     m.Name,
			FnLike:   m.Kind == cpp.MacroFunction,
			Params:   m.Params,
			Variadic: m.IsVariadic,
			Body:     m.Body(),
		}
		p.store.AddMacro(rec, p.currentFile)
		if rec.FnLike {
			return
		}
		ev := eval.New(p.pp.Macros(), p.consts, p.diags)
		ev.TypeNames = p.typedefs
		v := ev.EvalString(rec.Body)
		switch v.Kind {
		case eval.Int, eval.Float, eval.Str:
			p.store.SetValue(m.Name, v)
			p.consts[m.Name] = v
		}
	}
	p.pp.OnUndef = func(name string) {
		p.store.RemoveMacro(name)
	}

	return p, nil
}

// CopyFrom seeds this parser with the definitions of an already-parsed
// store, so a prebuilt baseline (say, a parsed system-headers set loaded
// from its cache) is shared across parses instead of reparsed. The base's
// typedef names, constants, and macros all participate when the new
// headers are processed. Must be called before Process.
func (p *Parser) CopyFrom(base *cmodel.Store) {
	p.store.Include(base)

	for _, name := range base.Names(cmodel.KindTypes) {
		p.typedefs[name] = true
	}
	for _, name := range base.Names(cmodel.KindValues) {
		if v, ok := base.GetValue(name); ok {
			p.consts[name] = v
		}
	}

	loc := cpp.SourceLoc{File: "<base>", Line: 1}
	for _, name := range base.Names(cmodel.KindMacros) {
		if rec, ok := base.GetMacro(name); ok {
			p.pp.Macros().DefineSimple(name, rec.Body, loc)
		}
	}
	for _, name := range base.Names(cmodel.KindFnMacros) {
		if rec, ok := base.GetFnMacro(name); ok {
			p.pp.Macros().DefineFunc(name, rec.Params, rec.Body, loc)
		}
	}
}

// Define installs a predefined macro (the -D surface).
func (p *Parser) Define(name, value string) {
	p.pp.Macros().DefineSimple(name, value, cpp.SourceLoc{File: "<predef>", Line: 1})
}

// Undefine removes a predefined macro (the -U surface).
func (p *Parser) Undefine(name string) {
	p.pp.Macros().Undefine(name)
}

// AddFile loads a header, resolving relative paths against the search list
// and decoding per the configured encoding.
func (p *Parser) AddFile(path string) error {
	resolved, err := p.findHeader(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("reading %s: %w", resolved, err)
	}
	text, err := decodeText(data, p.cfg.Encoding)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", resolved, err)
	}
	p.AddSource(resolved, text)
	return nil
}

// AddSource registers raw header text under a name.
func (p *Parser) AddSource(name, text string) {
	for _, r := range p.replacements {
		text = r.pattern.ReplaceAllString(text, r.repl)
	}
	if _, ok := p.sources[name]; !ok {
		p.fileOrder = append(p.fileOrder, name)
	}
	p.sources[name] = text
}

// findHeader resolves a header path against the search list.
func (p *Parser) findHeader(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	for _, dir := range p.cfg.HeaderSearchPaths {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot find header %q", path)
}

// Process preprocesses and parses all registered sources in order and
// finalizes the store. Only tokenizer failures abort; everything else lands
// in the diagnostics list.
func (p *Parser) Process() error {
	if p.processed {
		return fmt.Errorf("parser already processed its inputs")
	}

	for _, name := range p.fileOrder {
		p.currentFile = name
		toks, pack, err := p.pp.Preprocess(p.sources[name], name)
		if err != nil {
			return err
		}
		dp := newDeclParser(toks, p.store, &p.cfg, p.diags, pack, name,
			p.pp.Macros(), p.consts, p.typedefs)
		dp.run()
	}

	p.store.Finalize()
	p.processed = true
	return nil
}

// ProcessCached is Process with a persistent cache: when the cache file
// matches the current inputs and configuration, parsing is skipped and the
// cached store installed. Returns whether the cache was used.
func (p *Parser) ProcessCached(cachePath string) (bool, error) {
	inputHash := cache.HashInputs(p.sources)
	configHash, err := cache.HashConfig(p.cfg)
	if err != nil {
		return false, err
	}

	if store, ok, err := cache.Load(cachePath, inputHash, configHash); err != nil {
		return false, err
	} else if ok {
		p.store = store
		p.processed = true
		return true, nil
	}

	if err := p.Process(); err != nil {
		return false, err
	}
	if err := cache.Write(cachePath, p.store, inputHash, configHash); err != nil {
		return false, err
	}
	return false, nil
}

// Store returns the definition store.
func (p *Parser) Store() *cmodel.Store {
	return p.store
}

// Diagnostics returns the accumulated warnings.
func (p *Parser) Diagnostics() []cpp.Diagnostic {
	return p.diags.All()
}

// decodeText converts file bytes to a string per the named encoding.
func decodeText(data []byte, encName string) (string, error) {
	if encName == "" || strings.EqualFold(encName, "utf-8") || strings.EqualFold(encName, "utf8") {
		return string(data), nil
	}
	enc, err := ianaindex.IANA.Encoding(encName)
	if err != nil || enc == nil {
		return "", fmt.Errorf("unknown encoding %q", encName)
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
