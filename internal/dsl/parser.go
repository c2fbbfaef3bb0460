package dsl

import (
	"fmt"
	"strconv"
	"strings"

	lognogerrors "github.com/taskmasterpeace/lognog/pkg/errors"
)

// knownCommands gates "unknown command is a parse error" (spec.md §4.1).
var knownCommands = map[string]bool{
	"search": true, "where": true, "stats": true, "timechart": true,
	"sort": true, "limit": true, "head": true, "tail": true, "dedup": true,
	"table": true, "fields": true, "rename": true, "eval": true,
	"top": true, "rare": true, "bin": true, "rex": true,
}

// Parse turns DSL query text into a Pipeline, or returns a *ParseError
// (spec.md §4.1 contract).
func Parse(query string) (*Pipeline, error) {
	if len(query) > MaxQueryBytes {
		return nil, &lognogerrors.ParseError{Message: "query exceeds maximum length", Line: 1, Column: 1}
	}

	p := &parser{lex: newLexer(query)}
	p.advance()
	return p.parsePipeline()
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() { p.cur = p.lex.next() }

func (p *parser) errorf(format string, args ...interface{}) error {
	return &lognogerrors.ParseError{
		Message: fmt.Sprintf(format, args...),
		Line:    p.cur.line,
		Column:  p.cur.column,
	}
}

func (p *parser) parsePipeline() (*Pipeline, error) {
	pipeline := &Pipeline{}

	first := true
	for {
		if p.cur.kind == tokEOF {
			break
		}
		if !first {
			if p.cur.kind != tokPipe {
				return nil, p.errorf("expected '|' between stages, got %q", p.cur.text)
			}
			p.advance()
		}

		stage, err := p.parseStage(first)
		if err != nil {
			return nil, err
		}
		pipeline.Stages = append(pipeline.Stages, stage)
		first = false
	}

	if len(pipeline.Stages) == 0 {
		return nil, p.errorf("empty query")
	}
	return pipeline, nil
}

// parseStage dispatches on the leading command name. A leading `search`
// is implicit when the first token is not a known command (spec.md §4.1).
func (p *parser) parseStage(isFirst bool) (Stage, error) {
	name := ""
	if p.cur.kind == tokIdent {
		name = strings.ToLower(p.cur.text)
	}

	if isFirst && (p.cur.kind != tokIdent || !knownCommands[name]) {
		return p.parseSearchArgs()
	}

	if p.cur.kind != tokIdent || !knownCommands[name] {
		return nil, p.errorf("unknown command %q", p.cur.text)
	}
	p.advance()

	switch name {
	case "search":
		return p.parseSearchArgs()
	case "where":
		expr, err := p.parseBoolExpr()
		if err != nil {
			return nil, err
		}
		return WhereStage{Filter: expr}, nil
	case "stats":
		return p.parseStats()
	case "timechart":
		return p.parseTimechart()
	case "sort":
		return p.parseSort()
	case "limit":
		n, err := p.parseIntArg()
		if err != nil {
			return nil, err
		}
		return LimitStage{N: n}, nil
	case "head":
		n, err := p.parseIntArgDefault(10)
		if err != nil {
			return nil, err
		}
		return HeadStage{N: n}, nil
	case "tail":
		n, err := p.parseIntArgDefault(10)
		if err != nil {
			return nil, err
		}
		return TailStage{N: n}, nil
	case "dedup":
		fields, err := p.parseFieldList()
		if err != nil {
			return nil, err
		}
		return DedupStage{Fields: fields}, nil
	case "table":
		fields, err := p.parseFieldList()
		if err != nil {
			return nil, err
		}
		return TableStage{Fields: fields}, nil
	case "fields":
		return p.parseFields()
	case "rename":
		return p.parseRename()
	case "eval":
		return p.parseEval()
	case "top":
		return p.parseTopRare(false)
	case "rare":
		return p.parseTopRare(true)
	case "bin":
		return p.parseBin()
	case "rex":
		return p.parseRex()
	default:
		return nil, p.errorf("unknown command %q", name)
	}
}

func (p *parser) parseSearchArgs() (Stage, error) {
	if p.cur.kind == tokEOF || p.cur.kind == tokPipe {
		return SearchStage{Filter: WildcardExpr{}}, nil
	}
	if p.cur.kind == tokStar {
		p.advance()
		return SearchStage{Filter: WildcardExpr{}}, nil
	}
	expr, err := p.parseBoolExpr()
	if err != nil {
		return nil, err
	}
	return SearchStage{Filter: expr}, nil
}

// parseBoolExpr implements: Or := And (OR And)*, And := Not (AND Not)*,
// Not := NOT? Primary, Primary := '(' Or ')' | Compare.
func (p *parser) parseBoolExpr() (FilterExpr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (FilterExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = OrExpr{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (FilterExpr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if p.cur.kind == tokAnd {
			p.advance()
		} else if !p.startsPrimaryFilter() {
			break
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = AndExpr{Left: left, Right: right}
	}
	return left, nil
}

// startsPrimaryFilter reports whether the current token can begin
// another filter term, so adjacent terms without an explicit "and"
// keyword are still conjoined (Splunk-style implicit AND between
// space-separated search predicates, spec.md §4.1 seed examples).
func (p *parser) startsPrimaryFilter() bool {
	switch p.cur.kind {
	case tokIdent:
		return !(strings.ToLower(p.cur.text) == "or" || strings.ToLower(p.cur.text) == "and")
	case tokLParen, tokNot:
		return true
	default:
		return false
	}
}

func (p *parser) parseNot() (FilterExpr, error) {
	if p.cur.kind == tokNot {
		p.advance()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return NotExpr{Inner: inner}, nil
	}
	return p.parsePrimaryFilter()
}

func (p *parser) parsePrimaryFilter() (FilterExpr, error) {
	if p.cur.kind == tokLParen {
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, p.errorf("expected ')'")
		}
		p.advance()
		return expr, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (FilterExpr, error) {
	if p.cur.kind != tokIdent {
		return nil, p.errorf("expected field name, got %q", p.cur.text)
	}
	field := CanonicalField(p.cur.text)
	p.advance()

	if p.cur.kind != tokOp {
		return nil, p.errorf("expected comparison operator after field %q", field)
	}
	op := Op(p.cur.text)
	p.advance()

	val, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return CompareExpr{Field: field, Op: op, Value: val}, nil
}

func (p *parser) parseValue() (Value, error) {
	switch p.cur.kind {
	case tokString:
		v := Value{Kind: ValString, Str: p.cur.text}
		p.advance()
		return v, nil
	case tokNumber:
		n, _ := strconv.ParseFloat(p.cur.text, 64)
		v := Value{Kind: ValNumber, Num: n}
		p.advance()
		return v, nil
	case tokIdent:
		text := p.cur.text
		p.advance()
		if text == "true" || text == "false" {
			return Value{Kind: ValBool, Bool: text == "true"}, nil
		}
		return Value{Kind: ValString, Str: text}, nil
	case tokDuration, tokRelTime:
		v := Value{Kind: ValString, Str: p.cur.text, IsTime: true}
		p.advance()
		return v, nil
	default:
		return Value{}, p.errorf("expected a value, got %q", p.cur.text)
	}
}

func (p *parser) parseFieldList() ([]string, error) {
	var fields []string
	for {
		if p.cur.kind != tokIdent {
			return nil, p.errorf("expected field name, got %q", p.cur.text)
		}
		fields = append(fields, CanonicalField(p.cur.text))
		p.advance()
		if p.cur.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	return fields, nil
}

func (p *parser) parseIntArg() (int, error) {
	if p.cur.kind != tokNumber {
		return 0, p.errorf("expected integer argument, got %q", p.cur.text)
	}
	n, err := strconv.Atoi(p.cur.text)
	if err != nil {
		return 0, p.errorf("invalid integer %q", p.cur.text)
	}
	p.advance()
	return n, nil
}

func (p *parser) parseIntArgDefault(def int) (int, error) {
	if p.cur.kind != tokNumber {
		return def, nil
	}
	return p.parseIntArg()
}

func (p *parser) parseStats() (Stage, error) {
	aggs, err := p.parseAggList()
	if err != nil {
		return nil, err
	}
	by, err := p.parseOptionalBy()
	if err != nil {
		return nil, err
	}
	return StatsStage{Aggs: aggs, By: by}, nil
}

func (p *parser) parseTimechart() (Stage, error) {
	span := "1h"
	if p.cur.kind == tokIdent && strings.HasPrefix(p.cur.text, "span=") {
		span = strings.TrimPrefix(p.cur.text, "span=")
		p.advance()
	} else if p.cur.kind == tokIdent && p.cur.text == "span" {
		p.advance()
		if p.cur.kind != tokOp || p.cur.text != "=" {
			return nil, p.errorf("expected 'span='")
		}
		p.advance()
		if p.cur.kind != tokDuration && p.cur.kind != tokIdent {
			return nil, p.errorf("expected duration after span=")
		}
		span = p.cur.text
		p.advance()
	}
	aggs, err := p.parseAggList()
	if err != nil {
		return nil, err
	}
	by, err := p.parseOptionalBy()
	if err != nil {
		return nil, err
	}
	return TimechartStage{Span: span, Aggs: aggs, By: by}, nil
}

func (p *parser) parseAggList() ([]AggCall, error) {
	var aggs []AggCall
	for {
		if p.cur.kind != tokIdent {
			break
		}
		name := strings.ToLower(p.cur.text)
		p.advance()

		var field string
		if p.cur.kind == tokLParen {
			p.advance()
			if p.cur.kind == tokIdent {
				field = CanonicalField(p.cur.text)
				p.advance()
			}
			if p.cur.kind != tokRParen {
				return nil, p.errorf("expected ')' closing aggregation")
			}
			p.advance()
		} else if p.cur.kind == tokIdent && name != "count" {
			field = CanonicalField(p.cur.text)
			p.advance()
		}

		alias := name
		if field != "" {
			alias = name + "_" + field
		}
		if p.cur.kind == tokIdent && strings.ToLower(p.cur.text) == "as" {
			p.advance()
			if p.cur.kind != tokIdent {
				return nil, p.errorf("expected alias name after 'as'")
			}
			alias = p.cur.text
			p.advance()
		}

		aggs = append(aggs, AggCall{Func: name, Field: field, Alias: alias})

		if p.cur.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if len(aggs) == 0 {
		return nil, p.errorf("expected at least one aggregation")
	}
	return aggs, nil
}

func (p *parser) parseOptionalBy() ([]string, error) {
	if p.cur.kind == tokIdent && strings.ToLower(p.cur.text) == "by" {
		p.advance()
		return p.parseFieldList()
	}
	return nil, nil
}

func (p *parser) parseSort() (Stage, error) {
	var keys []SortKey
	for {
		desc := false
		if p.cur.kind == tokIdent && (p.cur.text == "desc" || p.cur.text == "asc") {
			desc = p.cur.text == "desc"
			p.advance()
		}
		if p.cur.kind != tokIdent {
			return nil, p.errorf("expected sort field, got %q", p.cur.text)
		}
		keys = append(keys, SortKey{Field: CanonicalField(p.cur.text), Desc: desc})
		p.advance()
		if p.cur.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	return SortStage{Keys: keys}, nil
}

func (p *parser) parseFields() (Stage, error) {
	include := true
	if p.cur.kind == tokOp && p.cur.text == "-" {
		include = false
		p.advance()
	}
	fields, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}
	return FieldsStage{Include: include, Fields: fields}, nil
}

func (p *parser) parseRename() (Stage, error) {
	var pairs []RenamePair
	for {
		if p.cur.kind != tokIdent {
			return nil, p.errorf("expected field name in rename")
		}
		from := CanonicalField(p.cur.text)
		p.advance()
		if !(p.cur.kind == tokIdent && strings.ToLower(p.cur.text) == "as") {
			return nil, p.errorf("expected 'as' in rename")
		}
		p.advance()
		if p.cur.kind != tokIdent {
			return nil, p.errorf("expected target name in rename")
		}
		to := p.cur.text
		p.advance()
		pairs = append(pairs, RenamePair{From: from, To: to})
		if p.cur.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	return RenameStage{Pairs: pairs}, nil
}

func (p *parser) parseEval() (Stage, error) {
	var assigns []EvalAssign
	for {
		if p.cur.kind != tokIdent {
			return nil, p.errorf("expected assignment target in eval")
		}
		name := p.cur.text
		p.advance()
		if !(p.cur.kind == tokOp && p.cur.text == "=") {
			return nil, p.errorf("expected '=' in eval assignment")
		}
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, EvalAssign{Name: name, Expr: expr})
		if p.cur.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	return EvalStage{Assigns: assigns}, nil
}

func (p *parser) parseTopRare(rare bool) (Stage, error) {
	n, err := p.parseIntArgDefault(10)
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokIdent {
		return nil, p.errorf("expected field name")
	}
	field := CanonicalField(p.cur.text)
	p.advance()
	if rare {
		return RareStage{N: n, Field: field}, nil
	}
	return TopStage{N: n, Field: field}, nil
}

func (p *parser) parseBin() (Stage, error) {
	span := "1h"
	if p.cur.kind == tokIdent && strings.HasPrefix(p.cur.text, "span=") {
		span = strings.TrimPrefix(p.cur.text, "span=")
		p.advance()
	}
	if p.cur.kind != tokIdent {
		return nil, p.errorf("expected field name in bin")
	}
	field := CanonicalField(p.cur.text)
	p.advance()
	return BinStage{Span: span, Field: field}, nil
}

func (p *parser) parseRex() (Stage, error) {
	field := "message"
	if p.cur.kind == tokIdent && p.cur.text == "field" {
		p.advance()
		if !(p.cur.kind == tokOp && p.cur.text == "=") {
			return nil, p.errorf("expected '=' after field")
		}
		p.advance()
		if p.cur.kind != tokIdent {
			return nil, p.errorf("expected field name")
		}
		field = CanonicalField(p.cur.text)
		p.advance()
	}
	if p.cur.kind != tokString {
		return nil, p.errorf("expected regex string literal in rex")
	}
	regex := p.cur.text
	p.advance()
	return RexStage{Field: field, Regex: regex}, nil
}

// ---- eval expression grammar: Or < And < Cmp < Add < Mul < Unary < Primary ----

func (p *parser) parseExpr() (Expr, error) { return p.parseExprOr() }

func (p *parser) parseExprOr() (Expr, error) {
	left, err := p.parseExprAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		p.advance()
		right, err := p.parseExprAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseExprAnd() (Expr, error) {
	left, err := p.parseExprCmp()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		p.advance()
		right, err := p.parseExprCmp()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseExprCmp() (Expr, error) {
	left, err := p.parseExprAdd()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tokOp {
		op := p.cur.text
		p.advance()
		right, err := p.parseExprAdd()
		if err != nil {
			return nil, err
		}
		return BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseExprAdd() (Expr, error) {
	left, err := p.parseExprMul()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokIdent && (p.cur.text == "+" || p.cur.text == "-") {
		op := p.cur.text
		p.advance()
		right, err := p.parseExprMul()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseExprMul() (Expr, error) {
	left, err := p.parseExprUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokStar {
		p.advance()
		right, err := p.parseExprUnary()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: "*", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseExprUnary() (Expr, error) {
	if p.cur.kind == tokNot {
		p.advance()
		inner, err := p.parseExprUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: "!", Expr: inner}, nil
	}
	return p.parseExprPrimary()
}

func (p *parser) parseExprPrimary() (Expr, error) {
	switch p.cur.kind {
	case tokLParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, p.errorf("expected ')'")
		}
		p.advance()
		return inner, nil
	case tokString:
		v := LiteralExpr{Value: Value{Kind: ValString, Str: p.cur.text}}
		p.advance()
		return v, nil
	case tokNumber:
		n, _ := strconv.ParseFloat(p.cur.text, 64)
		v := LiteralExpr{Value: Value{Kind: ValNumber, Num: n}}
		p.advance()
		return v, nil
	case tokIdent:
		name := p.cur.text
		p.advance()
		if p.cur.kind == tokLParen {
			return p.parseCall(name)
		}
		switch name {
		case "if":
			return p.parseIf()
		case "case":
			return p.parseCase()
		}
		return FieldExpr{Name: CanonicalField(name)}, nil
	default:
		return nil, p.errorf("unexpected token %q in expression", p.cur.text)
	}
}

func (p *parser) parseCall(name string) (Expr, error) {
	p.advance() // (
	var args []Expr
	for p.cur.kind != tokRParen {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if p.cur.kind != tokRParen {
		return nil, p.errorf("expected ')' closing call to %q", name)
	}
	p.advance()
	return CallExpr{Func: strings.ToLower(name), Args: args}, nil
}

func (p *parser) parseIf() (Expr, error) {
	if p.cur.kind != tokLParen {
		return nil, p.errorf("expected '(' after if")
	}
	p.advance()
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokComma {
		return nil, p.errorf("expected ',' in if")
	}
	p.advance()
	thenExpr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokComma {
		return nil, p.errorf("expected ',' in if")
	}
	p.advance()
	elseExpr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokRParen {
		return nil, p.errorf("expected ')' closing if")
	}
	p.advance()
	return IfExpr{Cond: cond, Then: thenExpr, Else: elseExpr}, nil
}

func (p *parser) parseCase() (Expr, error) {
	if p.cur.kind != tokLParen {
		return nil, p.errorf("expected '(' after case")
	}
	p.advance()
	var whens []CaseWhen
	var elseExpr Expr
	for {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokComma {
			return nil, p.errorf("expected ',' in case")
		}
		p.advance()
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		whens = append(whens, CaseWhen{Cond: cond, Then: then})
		if p.cur.kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if p.cur.kind != tokRParen {
		return nil, p.errorf("expected ')' closing case")
	}
	p.advance()
	_ = elseExpr
	return CaseExpr{Whens: whens}, nil
}
