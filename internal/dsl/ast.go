// Package dsl implements the piped query language: lexer, parser,
// validator, planner, SQL compiler (two dialects), and post-processor.
//
// AST building prefers a tagged sum over class inheritance: Stage and
// Expr are interfaces satisfied by concrete stage/expr structs, and
// code that needs to branch on the concrete kind does so with a type
// switch rather than reflection.
package dsl

// Pipeline is the parser's root output: an ordered sequence of stages.
type Pipeline struct {
	Stages []Stage
}

// Stage is implemented by every pipeline command. stageKind is
// unexported so only this package can add new stage kinds.
type Stage interface {
	stageKind() string
}

type SearchStage struct{ Filter FilterExpr }
type WhereStage struct{ Filter BoolExpr }

type AggCall struct {
	Func  string // count, sum, avg, min, max, dc, values, list, earliest, latest, first, last, median, mode, stddev, variance, range, p50, p90, p95, p99
	Field string // empty for count()
	Alias string
}

type StatsStage struct {
	Aggs []AggCall
	By   []string
}

type TimechartStage struct {
	Span string // duration literal, e.g. "1h"
	Aggs []AggCall
	By   []string
}

type SortKey struct {
	Field string
	Desc  bool
}

type SortStage struct{ Keys []SortKey }
type LimitStage struct{ N int }
type HeadStage struct{ N int }
type TailStage struct{ N int }
type DedupStage struct{ Fields []string }
type TableStage struct{ Fields []string }

type FieldsStage struct {
	Include bool // true = keep only Fields, false = drop Fields
	Fields  []string
}

type RenamePair struct {
	From string
	To   string
}

type RenameStage struct{ Pairs []RenamePair }

type EvalAssign struct {
	Name string
	Expr Expr
}

type EvalStage struct{ Assigns []EvalAssign }

type TopStage struct {
	N     int
	Field string
}

type RareStage struct {
	N     int
	Field string
}

type BinStage struct {
	Span  string
	Field string
}

type RexStage struct {
	Field string
	Regex string
}

func (SearchStage) stageKind() string    { return "search" }
func (WhereStage) stageKind() string     { return "where" }
func (StatsStage) stageKind() string     { return "stats" }
func (TimechartStage) stageKind() string { return "timechart" }
func (SortStage) stageKind() string      { return "sort" }
func (LimitStage) stageKind() string     { return "limit" }
func (HeadStage) stageKind() string      { return "head" }
func (TailStage) stageKind() string      { return "tail" }
func (DedupStage) stageKind() string     { return "dedup" }
func (TableStage) stageKind() string     { return "table" }
func (FieldsStage) stageKind() string    { return "fields" }
func (RenameStage) stageKind() string    { return "rename" }
func (EvalStage) stageKind() string      { return "eval" }
func (TopStage) stageKind() string       { return "top" }
func (RareStage) stageKind() string      { return "rare" }
func (BinStage) stageKind() string       { return "bin" }
func (RexStage) stageKind() string       { return "rex" }

// barrierStages must run server-side in SQL because they require
// materializing all upstream rows (spec.md §4.3, §GLOSSARY).
var barrierStages = map[string]bool{
	"stats":     true,
	"timechart": true,
	"top":       true,
	"rare":      true,
	"dedup":     true,
	"sort":      true,
	"limit":     true,
	"head":      true,
	"tail":      true,
}

// IsBarrier reports whether a stage must run server-side.
func IsBarrier(s Stage) bool { return barrierStages[s.stageKind()] }

// Op is a comparison operator in a filter leaf.
type Op string

const (
	OpEq    Op = "="
	OpNeq   Op = "!="
	OpLt    Op = "<"
	OpLte   Op = "<="
	OpGt    Op = ">"
	OpGte   Op = ">="
	OpMatch Op = "~" // substring/regex match, case-insensitive (spec.md §9)
)

// FilterExpr is the recursive boolean tree used by `search` (and `where`
// reuses the same shape as BoolExpr, an identical grammar under a
// different stage name).
type FilterExpr interface{ filterKind() string }
type BoolExpr = FilterExpr

type AndExpr struct{ Left, Right FilterExpr }
type OrExpr struct{ Left, Right FilterExpr }
type NotExpr struct{ Inner FilterExpr }

type CompareExpr struct {
	Field string
	Op    Op
	Value Value
}

// WildcardExpr matches every event; produced by a bare `*` in a search.
type WildcardExpr struct{}

func (AndExpr) filterKind() string      { return "and" }
func (OrExpr) filterKind() string       { return "or" }
func (NotExpr) filterKind() string      { return "not" }
func (CompareExpr) filterKind() string  { return "compare" }
func (WildcardExpr) filterKind() string { return "wildcard" }

// Value is a parsed DSL literal: string, number, bool, or duration/time.
type Value struct {
	Kind   ValueKind
	Str    string
	Num    float64
	Bool   bool
	IsTime bool // true if Str should be parsed by ParseTimeLiteral
}

type ValueKind int

const (
	ValString ValueKind = iota
	ValNumber
	ValBool
)

// Expr is the `eval` expression tree: arithmetic, string, conditional.
type Expr interface{ exprKind() string }

type LiteralExpr struct{ Value Value }
type FieldExpr struct{ Name string }

type BinaryExpr struct {
	Op          string // +,-,*,/,.. (string concat),==,!=,<,<=,>,>=,&&,||
	Left, Right Expr
}

type UnaryExpr struct {
	Op   string // "-", "!"
	Expr Expr
}

type CallExpr struct {
	Func string
	Args []Expr
}

type IfExpr struct {
	Cond, Then, Else Expr
}

type CaseExpr struct {
	Whens []CaseWhen
	Else  Expr
}

type CaseWhen struct {
	Cond Expr
	Then Expr
}

func (LiteralExpr) exprKind() string { return "literal" }
func (FieldExpr) exprKind() string   { return "field" }
func (BinaryExpr) exprKind() string  { return "binary" }
func (UnaryExpr) exprKind() string   { return "unary" }
func (CallExpr) exprKind() string    { return "call" }
func (IfExpr) exprKind() string      { return "if" }
func (CaseExpr) exprKind() string    { return "case" }

// fieldAliases is the canonicalization table resolved at parse time
// (spec.md §6), so downstream stages only ever see canonical names.
var fieldAliases = map[string]string{
	"host":       "hostname",
	"source":     "hostname",
	"app":        "app_name",
	"program":    "app_name",
	"sourcetype": "app_name",
	"level":      "severity",
	"msg":        "message",
	"_raw":       "raw",
	"_time":      "timestamp",
	"time":       "timestamp",
	"index":      "index_name",
}

// CanonicalField resolves a field alias to its canonical Event column
// name, or returns name unchanged if it is not an alias.
func CanonicalField(name string) string {
	if canon, ok := fieldAliases[name]; ok {
		return canon
	}
	return name
}
