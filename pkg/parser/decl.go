// decl.go implements the declaration grammar: a recursive-descent recognizer
// over the preprocessed token stream. The parser is deliberately tolerant:
// unknown type names are accepted, unparseable declarations are skipped to
// the next ';' with a warning, and function bodies are scanned at brace
// depth without being parsed.
package parser

import (
	"strings"

	"github.com/raymyers/headerscan/pkg/cmodel"
	"github.com/raymyers/headerscan/pkg/cpp"
	"github.com/raymyers/headerscan/pkg/eval"
)

// declParser walks the significant tokens of one preprocessed file.
type declParser struct {
	toks []cpp.Token
	pos  int

	store *cmodel.Store
	cfg   *Config
	diags *cpp.DiagList
	pack  *cpp.PackTracker
	file  string

	macros   *cpp.MacroTable
	consts   map[string]eval.Value
	typedefs map[string]bool

	storageSet map[string]bool
	qualSet    map[string]bool
	modSet     map[string]bool
	signSize   map[string]bool
	primSet    map[string]bool
}

func newDeclParser(toks []cpp.Token, store *cmodel.Store, cfg *Config, diags *cpp.DiagList,
	pack *cpp.PackTracker, file string, macros *cpp.MacroTable,
	consts map[string]eval.Value, typedefs map[string]bool) *declParser {

	var significant []cpp.Token
	for _, tok := range toks {
		switch tok.Type {
		case cpp.PP_WHITESPACE, cpp.PP_NEWLINE, cpp.PP_EOF, cpp.PP_PLACEHOLDER:
		default:
			significant = append(significant, tok)
		}
	}

	d := &declParser{
		toks:     significant,
		store:    store,
		cfg:      cfg,
		diags:    diags,
		pack:     pack,
		file:     file,
		macros:   macros,
		consts:   consts,
		typedefs: typedefs,
		storageSet: map[string]bool{
			"static": true, "extern": true, "inline": true,
		},
		qualSet:  make(map[string]bool),
		modSet:   make(map[string]bool),
		signSize: map[string]bool{"signed": true, "unsigned": true, "short": true, "long": true},
		primSet:  make(map[string]bool),
	}
	for _, q := range cfg.TypeQualifiers {
		d.qualSet[q] = true
	}
	for _, m := range cfg.Modifiers {
		d.qualSet[m] = true
		d.modSet[m] = true
	}
	for _, p := range cfg.PrimitiveTypes {
		d.primSet[p] = true
	}
	return d
}

// run parses external declarations until the stream is exhausted.
func (d *declParser) run() {
	for d.pos < len(d.toks) {
		if d.isPunct(";") {
			d.pos++
			continue
		}
		start := d.pos
		if !d.parseExternalDecl() {
			d.recoverFrom(start)
		}
	}
}

// --- cursor helpers

func (d *declParser) cur() cpp.Token {
	if d.pos >= len(d.toks) {
		return cpp.Token{Type: cpp.PP_EOF}
	}
	return d.toks[d.pos]
}

func (d *declParser) peekAt(n int) cpp.Token {
	if d.pos+n >= len(d.toks) {
		return cpp.Token{Type: cpp.PP_EOF}
	}
	return d.toks[d.pos+n]
}

func (d *declParser) isPunct(text string) bool {
	tok := d.cur()
	return tok.Type == cpp.PP_PUNCTUATOR && tok.Text == text
}

func (d *declParser) isIdent(text string) bool {
	tok := d.cur()
	return tok.Type == cpp.PP_IDENTIFIER && tok.Text == text
}

func (d *declParser) accept(text string) bool {
	if d.isPunct(text) {
		d.pos++
		return true
	}
	return false
}

// keyword reports whether an identifier is reserved by the grammar and so
// cannot name a declarator.
func (d *declParser) keyword(s string) bool {
	switch s {
	case "struct", "union", "enum", "typedef":
		return true
	}
	return d.storageSet[s] || d.qualSet[s] || d.signSize[s] || d.primSet[s]
}

// recoverFrom skips past a declaration that failed to parse: to the next ';'
// at depth zero, consuming a trailing body if one intervenes.
func (d *declParser) recoverFrom(start int) {
	if d.pos == start {
		d.pos++
	}
	depth := 0
	for d.pos < len(d.toks) {
		tok := d.cur()
		if tok.Type == cpp.PP_PUNCTUATOR {
			switch tok.Text {
			case "{", "(", "[":
				depth++
			case "}", ")", "]":
				depth--
				if depth < 0 {
					d.pos++
					return
				}
			case ";":
				if depth == 0 {
					d.pos++
					return
				}
			}
		}
		d.pos++
	}
}

func (d *declParser) evaluator() *eval.Evaluator {
	ev := eval.New(d.macros, d.consts, d.diags)
	ev.TypeNames = d.typedefs
	return ev
}

// --- external declarations

func (d *declParser) parseExternalDecl() bool {
	loc := d.cur().Loc

	isTypedef := false
	if d.isIdent("typedef") {
		isTypedef = true
		d.pos++
	}

	storage, quals := d.parseLeadingQuals()

	base, ok := d.parseTypeSpec()
	if !ok {
		d.diags.Warnf(loc, "expected declaration, skipping")
		return false
	}
	base = base.WithQuals(quals)

	// A bare record declaration: struct X {...}; enum E {...};
	if d.isPunct(";") {
		d.pos++
		return true
	}

	for {
		node, ok := d.parseDeclarator()
		if !ok {
			d.diags.Warnf(loc, "bad declarator, declaration dropped")
			return false
		}
		name, typ := d.processDeclarator(node, base)

		// Inline definition body: scan and skip, keep the prototype
		if d.isPunct("{") {
			d.skipBraces()
			if typ.IsFunction() && name != "" && !isTypedef {
				d.recordFunction(name, typ, storage)
			}
			d.accept(";")
			return true
		}

		var initVal *eval.Value
		if d.accept("=") {
			v, ok := d.parseInitializer()
			if !ok {
				d.diags.Warnf(loc, "bad initializer, declaration dropped")
				return false
			}
			initVal = &v
		}

		switch {
		case isTypedef:
			if name == "" {
				d.diags.Warnf(loc, "typedef without a name")
			} else {
				d.store.AddTypedef(name, typ, d.file)
				d.typedefs[name] = true
			}
		case typ.IsFunction():
			if name != "" {
				d.recordFunction(name, typ, storage)
			}
		case name != "":
			d.recordVariable(name, typ, initVal, storage)
		}

		if d.accept(",") {
			continue
		}
		if d.accept(";") {
			return true
		}
		d.diags.Warnf(d.cur().Loc, "expected ';' after declaration")
		return false
	}
}

// parseLeadingQuals consumes storage classes and qualifier/modifier keywords
// in any order, returning them separately.
func (d *declParser) parseLeadingQuals() (storage, quals []string) {
	for d.cur().Type == cpp.PP_IDENTIFIER {
		text := d.cur().Text
		switch {
		case d.storageSet[text]:
			storage = append(storage, text)
			d.pos++
		case d.qualSet[text]:
			quals = append(quals, d.consumeQual())
		default:
			return storage, quals
		}
	}
	return storage, quals
}

// consumeQual consumes one qualifier or modifier keyword; a modifier may
// carry a parenthesized argument (e.g. __allowed("N")), which is preserved
// in the qualifier text.
func (d *declParser) consumeQual() string {
	text := d.cur().Text
	d.pos++
	if d.modSet[text] && d.isPunct("(") {
		var sb strings.Builder
		sb.WriteString(text)
		depth := 0
		for d.pos < len(d.toks) {
			tok := d.cur()
			sb.WriteString(tok.Text)
			d.pos++
			if tok.Type == cpp.PP_PUNCTUATOR {
				if tok.Text == "(" {
					depth++
				} else if tok.Text == ")" {
					depth--
					if depth == 0 {
						break
					}
				}
			}
		}
		return sb.String()
	}
	return text
}

// --- type specifiers

func (d *declParser) parseTypeSpec() (cmodel.Type, bool) {
	tok := d.cur()
	if tok.Type != cpp.PP_IDENTIFIER {
		return cmodel.Type{}, false
	}

	switch tok.Text {
	case "struct", "union":
		return d.parseCompound(tok.Text)
	case "enum":
		return d.parseEnum()
	}

	// Fundamental type: one or more sign/size words and primitive spellings
	var words []string
	for d.cur().Type == cpp.PP_IDENTIFIER {
		text := d.cur().Text
		if d.signSize[text] || d.primSet[text] {
			words = append(words, text)
			d.pos++
			continue
		}
		break
	}
	if len(words) > 0 {
		return cmodel.Type{Base: strings.Join(words, " ")}, true
	}

	// A user type name; unknown names are accepted and stay unresolved
	if d.keyword(tok.Text) {
		return cmodel.Type{}, false
	}
	d.pos++
	return cmodel.Type{Base: tok.Text}, true
}

// parseCompound parses struct/union bodies and references.
func (d *declParser) parseCompound(keyword string) (cmodel.Type, bool) {
	kwTok := d.cur()
	d.pos++

	name := ""
	if d.cur().Type == cpp.PP_IDENTIFIER && !d.keyword(d.cur().Text) {
		name = d.cur().Text
		d.pos++
	}

	if !d.isPunct("{") {
		if name == "" {
			return cmodel.Type{}, false
		}
		return cmodel.Type{Base: keyword + " " + name}, true
	}

	fields, ok := d.parseFieldList()
	if !ok {
		return cmodel.Type{}, false
	}

	if name == "" {
		name = d.store.NextAnonName(keyword)
	}
	if keyword == "struct" {
		d.store.AddStruct(&cmodel.StructRec{
			Name:   name,
			Fields: fields,
			Pack:   d.pack.At(kwTok.Loc.Line),
		}, d.file)
	} else {
		d.store.AddUnion(&cmodel.UnionRec{Name: name, Fields: fields}, d.file)
	}
	return cmodel.Type{Base: keyword + " " + name}, true
}

func (d *declParser) parseFieldList() ([]cmodel.Field, bool) {
	d.pos++ // consume '{'
	var fields []cmodel.Field

	for d.pos < len(d.toks) && !d.isPunct("}") {
		if d.accept(";") {
			continue
		}
		start := d.pos
		fs, ok := d.parseFieldDecl()
		if !ok {
			d.diags.Warnf(d.cur().Loc, "unparseable member skipped")
			d.recoverInBody(start)
			continue
		}
		fields = append(fields, fs...)
	}

	if !d.accept("}") {
		return nil, false
	}
	return fields, true
}

// recoverInBody skips to the next ';' inside a record body without escaping
// the enclosing braces.
func (d *declParser) recoverInBody(start int) {
	if d.pos == start {
		d.pos++
	}
	depth := 0
	for d.pos < len(d.toks) {
		tok := d.cur()
		if tok.Type == cpp.PP_PUNCTUATOR {
			switch tok.Text {
			case "{", "(", "[":
				depth++
			case "}", ")", "]":
				if depth == 0 {
					return
				}
				depth--
			case ";":
				if depth == 0 {
					d.pos++
					return
				}
			}
		}
		d.pos++
	}
}

// parseFieldDecl parses one member declaration, possibly with several
// declarators, bit-widths, and assignment-style defaults.
func (d *declParser) parseFieldDecl() ([]cmodel.Field, bool) {
	_, quals := d.parseLeadingQuals()

	base, ok := d.parseTypeSpec()
	if !ok {
		return nil, false
	}
	base = base.WithQuals(quals)

	// Anonymous nested aggregate: contributes one unnamed field
	if d.accept(";") {
		return []cmodel.Field{{Name: "", Type: base, BitSize: -1}}, true
	}

	var fields []cmodel.Field
	for {
		node, ok := d.parseDeclarator()
		if !ok {
			return nil, false
		}
		name, typ := d.processDeclarator(node, base)

		bits := -1
		if d.accept(":") {
			expr := d.collectExpr(",", ";", "}")
			v := d.evaluator().EvalTokens(expr)
			if v.Kind == eval.Int {
				bits = int(v.Int)
			} else {
				d.diags.Warnf(d.cur().Loc, "bit-field width did not reduce to an integer")
			}
		}

		var def *eval.Value
		if d.accept("=") {
			v, ok := d.parseInitializer()
			if !ok {
				return nil, false
			}
			def = &v
		}

		fields = append(fields, cmodel.Field{Name: name, Type: typ, BitSize: bits, Default: def})

		if d.accept(",") {
			continue
		}
		if d.accept(";") {
			return fields, true
		}
		return nil, false
	}
}

// parseEnum parses enum bodies and references, resolving member values
// left to right.
func (d *declParser) parseEnum() (cmodel.Type, bool) {
	d.pos++ // consume 'enum'

	name := ""
	if d.cur().Type == cpp.PP_IDENTIFIER && !d.keyword(d.cur().Text) {
		name = d.cur().Text
		d.pos++
	}

	if !d.isPunct("{") {
		if name == "" {
			return cmodel.Type{}, false
		}
		return cmodel.Type{Base: "enum " + name}, true
	}
	d.pos++ // consume '{'

	var members []cmodel.EnumMember
	running := int64(0)

	for d.pos < len(d.toks) && !d.isPunct("}") {
		if d.cur().Type != cpp.PP_IDENTIFIER {
			d.diags.Warnf(d.cur().Loc, "unexpected %q in enum body", d.cur().Text)
			d.recoverInBody(d.pos)
			continue
		}
		mname := d.cur().Text
		d.pos++

		if d.accept("=") {
			expr := d.collectExpr(",", "}")
			v := d.evaluator().EvalTokens(expr)
			if v.Kind == eval.Int {
				running = v.Int
			} else {
				d.diags.Warnf(d.cur().Loc, "enum value for %s did not reduce to an integer", mname)
			}
		}

		members = append(members, cmodel.EnumMember{Name: mname, Value: running})
		d.consts[mname] = eval.IntVal(running)
		running++

		if !d.accept(",") {
			break
		}
	}

	if !d.accept("}") {
		return cmodel.Type{}, false
	}

	if name == "" {
		name = d.store.NextAnonName("enum")
	}
	d.store.AddEnum(&cmodel.EnumRec{Name: name, Members: members}, d.file)
	return cmodel.Type{Base: "enum " + name}, true
}

// --- declarators

// declNode is the parse tree of one declarator before modifier ordering is
// worked out.
type declNode struct {
	ptrs      [][]string // qualifier lists, one per pointer star
	quals     []string
	name      string
	center    *declNode
	params    []cmodel.Param
	hasParams bool
	variadic  bool
	arrays    [][]cpp.Token // size expressions, empty slice for []
}

// parseDeclarator accepts both named and abstract declarators; an abstract
// declarator simply yields an empty name.
func (d *declParser) parseDeclarator() (*declNode, bool) {
	node := &declNode{}

	// Qualifiers written before a star annotate that pointer level;
	// trailing qualifiers attach to the declarator itself.
	for {
		var pq []string
		for d.cur().Type == cpp.PP_IDENTIFIER && d.qualSet[d.cur().Text] {
			pq = append(pq, d.consumeQual())
		}
		if d.accept("*") {
			node.ptrs = append(node.ptrs, pq)
			continue
		}
		node.quals = append(node.quals, pq...)
		break
	}

	if d.cur().Type == cpp.PP_IDENTIFIER && !d.keyword(d.cur().Text) {
		node.name = d.cur().Text
		d.pos++
	} else if d.isPunct("(") && d.parenStartsDeclarator() {
		d.pos++
		center, ok := d.parseDeclarator()
		if !ok || !d.accept(")") {
			return nil, false
		}
		node.center = center
	}

	if d.isPunct("(") {
		d.pos++
		params, variadic, ok := d.parseParams()
		if !ok {
			return nil, false
		}
		node.params = params
		node.hasParams = true
		node.variadic = variadic
	}

	for d.accept("[") {
		expr := d.collectExpr("]")
		if !d.accept("]") {
			return nil, false
		}
		node.arrays = append(node.arrays, expr)
	}

	return node, true
}

// parenStartsDeclarator disambiguates `(*p)` style sub-declarators from a
// parameter list following an omitted name.
func (d *declParser) parenStartsDeclarator() bool {
	next := d.peekAt(1)
	if next.Type == cpp.PP_PUNCTUATOR {
		return next.Text == "*" || next.Text == "("
	}
	if next.Type != cpp.PP_IDENTIFIER {
		return false
	}
	// A type word after '(' means a parameter list
	text := next.Text
	if text == "struct" || text == "union" || text == "enum" ||
		d.signSize[text] || d.primSet[text] || d.typedefs[text] {
		return false
	}
	return true
}

func (d *declParser) parseParams() ([]cmodel.Param, bool, bool) {
	if d.accept(")") {
		return nil, false, true
	}

	var params []cmodel.Param
	variadic := false

	for {
		if d.isPunct("...") {
			variadic = true
			d.pos++
			if !d.accept(")") {
				return nil, false, false
			}
			break
		}

		_, quals := d.parseLeadingQuals()
		base, ok := d.parseTypeSpec()
		if !ok {
			return nil, false, false
		}
		base = base.WithQuals(quals)

		node, ok := d.parseDeclarator()
		if !ok {
			return nil, false, false
		}
		pname, ptyp := d.processDeclarator(node, base)

		// Assignment-style parameter defaults are tolerated and dropped
		if d.accept("=") {
			d.collectExpr(",", ")")
		}

		params = append(params, cmodel.Param{Name: pname, Type: ptyp})

		if d.accept(",") {
			continue
		}
		if d.accept(")") {
			break
		}
		return nil, false, false
	}

	// A lone unnamed void means no parameters
	if len(params) == 1 && params[0].Name == "" &&
		params[0].Type.Base == "void" && len(params[0].Type.Mods) == 0 {
		params = nil
	}

	return params, variadic, true
}

// processDeclarator composes the canonical type from a declarator node.
// Modifiers end up ordered outermost-last: pointers at this level wrap the
// base first, then a function or array suffix, then the enclosing levels.
func (d *declParser) processDeclarator(node *declNode, base cmodel.Type) (string, cmodel.Type) {
	t := base
	name := ""

	for _, pq := range node.ptrs {
		t = t.WithMod(cmodel.Pointer{Quals: pq})
	}

	if node.hasParams {
		t = t.WithMod(cmodel.Function{Params: node.params, Variadic: node.variadic})
	}
	t = t.WithQuals(node.quals)

	for i := len(node.arrays) - 1; i >= 0; i-- {
		t = t.WithMod(d.arrayMod(node.arrays[i]))
	}

	if node.center != nil {
		var n string
		n, t = d.processDeclarator(node.center, t)
		if n != "" {
			name = n
		}
	}

	if node.name != "" {
		name = node.name
	}
	return name, t
}

// arrayMod evaluates an array size expression; non-constant sizes keep the
// source text.
func (d *declParser) arrayMod(expr []cpp.Token) cmodel.Modifier {
	if len(expr) == 0 {
		return cmodel.Array{Size: -1}
	}
	v := d.evaluator().EvalTokens(expr)
	if v.Kind == eval.Int {
		return cmodel.Array{Size: v.Int}
	}
	return cmodel.Array{Size: -1, Expr: strings.TrimSpace(cpp.TokensToString(expr))}
}

// --- initializers and expressions

// parseInitializer evaluates `= expr` or `= {expr, ...}` initializers.
func (d *declParser) parseInitializer() (eval.Value, bool) {
	if d.accept("{") {
		var items []eval.Value
		for d.pos < len(d.toks) && !d.isPunct("}") {
			expr := d.collectExpr(",", "}")
			items = append(items, d.evaluator().EvalTokens(expr))
			if !d.accept(",") {
				break
			}
		}
		if !d.accept("}") {
			return eval.Value{}, false
		}
		return eval.ListVal(items), true
	}

	expr := d.collectExpr(",", ";")
	if len(expr) == 0 {
		return eval.Value{}, false
	}
	return d.evaluator().EvalTokens(expr), true
}

// collectExpr gathers tokens up to one of the stop punctuators at depth
// zero. The stop token is not consumed.
func (d *declParser) collectExpr(stops ...string) []cpp.Token {
	var out []cpp.Token
	depth := 0
	for d.pos < len(d.toks) {
		tok := d.cur()
		if tok.Type == cpp.PP_PUNCTUATOR {
			switch tok.Text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				if depth == 0 {
					return out
				}
				depth--
			default:
				if depth == 0 {
					for _, stop := range stops {
						if tok.Text == stop {
							return out
						}
					}
				}
			}
		}
		out = append(out, tok)
		d.pos++
	}
	return out
}

// skipBraces consumes a balanced brace group starting at '{'.
func (d *declParser) skipBraces() {
	depth := 0
	for d.pos < len(d.toks) {
		tok := d.cur()
		d.pos++
		if tok.Type != cpp.PP_PUNCTUATOR {
			continue
		}
		if tok.Text == "{" {
			depth++
		} else if tok.Text == "}" {
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

// --- record builders

func (d *declParser) recordFunction(name string, typ cmodel.Type, storage []string) {
	last := len(typ.Mods) - 1
	fn, _ := typ.Mods[last].(cmodel.Function)
	ret := cmodel.Type{Base: typ.Base, Mods: typ.Mods[:last]}

	callconv := ""
	var retQuals []string
	for _, q := range typ.Quals {
		if d.modSet[qualWord(q)] && callconv == "" {
			callconv = q
		} else {
			retQuals = append(retQuals, q)
		}
	}
	ret.Quals = retQuals

	d.store.AddFunction(&cmodel.FuncRec{
		Name:     name,
		Return:   ret,
		Params:   fn.Params,
		Variadic: fn.Variadic,
		CallConv: callconv,
		Storage:  append([]string{}, storage...),
	}, d.file)
}

func (d *declParser) recordVariable(name string, typ cmodel.Type, init *eval.Value, storage []string) {
	d.store.AddVariable(&cmodel.VarRec{
		Name:    name,
		Type:    typ,
		Init:    init,
		Storage: storage,
	}, d.file)
	if init != nil && init.Kind != eval.Invalid && init.Kind != eval.Symbolic {
		d.consts[name] = *init
	}
}

// qualWord strips a parenthesized argument from a qualifier spelling.
func qualWord(q string) string {
	if idx := strings.IndexByte(q, '('); idx >= 0 {
		return q[:idx]
	}
	return q
}
