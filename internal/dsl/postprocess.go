package dsl

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row is a single result row flowing through the post-processor. Values
// are the untyped form storage adapters return (string/float64/bool/
// time.Time/nil); the post-processor never needs the Event struct
// itself since aggregation already collapsed it.
type Row map[string]interface{}

// PostProcess runs the stages the planner could not push into SQL,
// in order, against the rows the storage adapter returned (spec.md
// §4.4: eval, rex, fields, rename, table, and client-side gap-filling).
func PostProcess(rows []Row, stages []Stage, plan *Plan) ([]Row, error) {
	for _, stage := range stages {
		var err error
		switch s := stage.(type) {
		case EvalStage:
			rows, err = applyEval(rows, s)
		case RexStage:
			rows, err = applyRex(rows, s)
		case FieldsStage:
			rows = applyFields(rows, s)
		case RenameStage:
			rows = applyRename(rows, s)
		case TableStage:
			rows = applyFields(rows, FieldsStage{Include: true, Fields: s.Fields})
		case DedupStage:
			rows = applyDedup(rows, s)
		case SortStage:
			rows = applySort(rows, s)
		case LimitStage:
			rows = applyLimit(rows, s.N)
		case HeadStage:
			rows = applyLimit(rows, s.N)
		case TailStage:
			rows = applyTail(rows, s.N)
		case ReverseMarker:
			rows = reverseRows(rows)
		case TimechartGapFillMarker:
			rows = gapFill(rows, s.Span, plan.Earliest, plan.Latest)
		case BinStage:
			rows, err = applyBin(rows, s)
		case SearchStage, WhereStage:
			// already pushed down by the planner; nothing left to do here
		default:
			err = fmt.Errorf("post-processor: unsupported residual stage %q", stage.stageKind())
		}
		if err != nil {
			return nil, err
		}
		if len(rows) > AggResultCap {
			rows = rows[:AggResultCap]
		}
	}
	return rows, nil
}

func applyFields(rows []Row, s FieldsStage) []Row {
	want := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		want[CanonicalField(f)] = true
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		nr := Row{}
		for k, v := range r {
			keep := want[k]
			if !s.Include {
				keep = !want[k]
			}
			if keep {
				nr[k] = v
			}
		}
		out[i] = nr
	}
	return out
}

func applyRename(rows []Row, s RenameStage) []Row {
	for _, r := range rows {
		for _, p := range s.Pairs {
			from := CanonicalField(p.From)
			if v, ok := r[from]; ok {
				r[p.To] = v
				delete(r, from)
			}
		}
	}
	return rows
}

func applyDedup(rows []Row, s DedupStage) []Row {
	seen := make(map[string]bool)
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		var key strings.Builder
		for _, f := range s.Fields {
			key.WriteString(fmt.Sprintf("%v\x1f", r[CanonicalField(f)]))
		}
		k := key.String()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func applySort(rows []Row, s SortStage) []Row {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range s.Keys {
			f := CanonicalField(k.Field)
			cmp := compareValues(rows[i][f], rows[j][f])
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return rows
}

func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	return strings.Compare(as, bs)
}

func applyLimit(rows []Row, n int) []Row {
	if n >= 0 && n < len(rows) {
		return rows[:n]
	}
	return rows
}

func applyTail(rows []Row, n int) []Row {
	if n >= 0 && n < len(rows) {
		return rows[len(rows)-n:]
	}
	return rows
}

func reverseRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	return out
}

// gapFill inserts zero-valued buckets for every span-aligned interval in
// [earliest,latest) absent from the aggregated result, per spec.md's
// resolved Open Question: timechart never silently omits empty buckets.
func gapFill(rows []Row, span time.Duration, earliest, latest time.Time) []Row {
	if span <= 0 {
		return rows
	}
	present := make(map[int64]Row, len(rows))
	for _, r := range rows {
		t, ok := r["__bucket"].(time.Time)
		if !ok {
			continue
		}
		present[t.Unix()] = r
	}

	var out []Row
	for b := earliest.Truncate(span); b.Before(latest); b = b.Add(span) {
		if r, ok := present[b.Unix()]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, Row{"__bucket": b, "count": float64(0)})
	}
	return out
}

func applyEval(rows []Row, s EvalStage) ([]Row, error) {
	for _, r := range rows {
		for _, a := range s.Assigns {
			v, err := evalExpr(a.Expr, r)
			if err != nil {
				return nil, err
			}
			r[a.Name] = v
		}
	}
	return rows, nil
}

func evalExpr(e Expr, r Row) (interface{}, error) {
	switch v := e.(type) {
	case LiteralExpr:
		return literalArg(v.Value), nil
	case FieldExpr:
		return r[CanonicalField(v.Name)], nil
	case UnaryExpr:
		inner, err := evalExpr(v.Expr, r)
		if err != nil {
			return nil, err
		}
		if v.Op == "-" {
			return -toFloat(inner), nil
		}
		return !toBool(inner), nil
	case BinaryExpr:
		l, err := evalExpr(v.Left, r)
		if err != nil {
			return nil, err
		}
		rt, err := evalExpr(v.Right, r)
		if err != nil {
			return nil, err
		}
		return evalBinary(v.Op, l, rt)
	case CallExpr:
		return evalCall(v, r)
	case IfExpr:
		cond, err := evalExpr(v.Cond, r)
		if err != nil {
			return nil, err
		}
		if toBool(cond) {
			return evalExpr(v.Then, r)
		}
		return evalExpr(v.Else, r)
	case CaseExpr:
		for _, w := range v.Whens {
			cond, err := evalExpr(w.Cond, r)
			if err != nil {
				return nil, err
			}
			if toBool(cond) {
				return evalExpr(w.Then, r)
			}
		}
		if v.Else != nil {
			return evalExpr(v.Else, r)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("eval: unsupported expression kind %q", e.exprKind())
	}
}

func evalBinary(op string, l, r interface{}) (interface{}, error) {
	switch op {
	case "+":
		if ls, ok := l.(string); ok {
			return ls + fmt.Sprintf("%v", r), nil
		}
		return toFloat(l) + toFloat(r), nil
	case "-":
		return toFloat(l) - toFloat(r), nil
	case "*":
		return toFloat(l) * toFloat(r), nil
	case "/":
		rv := toFloat(r)
		if rv == 0 {
			return nil, fmt.Errorf("eval: division by zero")
		}
		return toFloat(l) / rv, nil
	case ".":
		return fmt.Sprintf("%v%v", l, r), nil
	case "==":
		return compareValues(l, r) == 0, nil
	case "!=":
		return compareValues(l, r) != 0, nil
	case "<":
		return compareValues(l, r) < 0, nil
	case "<=":
		return compareValues(l, r) <= 0, nil
	case ">":
		return compareValues(l, r) > 0, nil
	case ">=":
		return compareValues(l, r) >= 0, nil
	case "&&":
		return toBool(l) && toBool(r), nil
	case "||":
		return toBool(l) || toBool(r), nil
	default:
		return nil, fmt.Errorf("eval: unsupported operator %q", op)
	}
}

func evalCall(c CallExpr, r Row) (interface{}, error) {
	args := make([]interface{}, len(c.Args))
	for i, a := range c.Args {
		v, err := evalExpr(a, r)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch c.Func {
	case "upper":
		return strings.ToUpper(toStr(arg0(args))), nil
	case "lower":
		return strings.ToLower(toStr(arg0(args))), nil
	case "len":
		return float64(len(toStr(arg0(args)))), nil
	case "concat":
		var b strings.Builder
		for _, a := range args {
			b.WriteString(toStr(a))
		}
		return b.String(), nil
	case "substr":
		s := toStr(arg0(args))
		start := int(toFloat(arg1(args)))
		if start < 0 || start > len(s) {
			return "", nil
		}
		end := len(s)
		if len(args) > 2 {
			end = start + int(toFloat(args[2]))
			if end > len(s) {
				end = len(s)
			}
		}
		return s[start:end], nil
	case "round":
		return float64(int64(toFloat(arg0(args)) + 0.5)), nil
	case "floor":
		return float64(int64(toFloat(arg0(args)))), nil
	case "ceil":
		f := toFloat(arg0(args))
		i := int64(f)
		if f > float64(i) {
			i++
		}
		return float64(i), nil
	case "abs":
		f := toFloat(arg0(args))
		if f < 0 {
			return -f, nil
		}
		return f, nil
	case "coalesce":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	case "tonumber":
		return toFloat(arg0(args)), nil
	case "tostring":
		return toStr(arg0(args)), nil
	default:
		return nil, fmt.Errorf("eval: unknown function %q", c.Func)
	}
}

func arg0(a []interface{}) interface{} {
	if len(a) > 0 {
		return a[0]
	}
	return nil
}

func arg1(a []interface{}) interface{} {
	if len(a) > 1 {
		return a[1]
	}
	return nil
}

func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func toBool(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != "" && x != "false"
	default:
		return v != nil
	}
}

func toStr(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// applyRex extracts named groups from a regex match against Field and
// adds each group as a new row field (spec.md §9 rex stage), mirroring
// the extraction layer's grok semantics but scoped to one query.
func applyRex(rows []Row, s RexStage) ([]Row, error) {
	re, err := regexp.Compile(s.Regex)
	if err != nil {
		return nil, fmt.Errorf("rex: %w", err)
	}
	names := re.SubexpNames()
	for _, r := range rows {
		src := toStr(r[CanonicalField(s.Field)])
		m := re.FindStringSubmatch(src)
		if m == nil {
			continue
		}
		for i, name := range names {
			if name == "" || i >= len(m) {
				continue
			}
			r[name] = m[i]
		}
	}
	return rows, nil
}

// applyBin overwrites Field with its span-aligned bucket start, used
// when bin appears after a barrier stage rather than inside timechart.
func applyBin(rows []Row, s BinStage) ([]Row, error) {
	span, err := ParseDuration(s.Span)
	if err != nil {
		return nil, fmt.Errorf("bin: %w", err)
	}
	field := CanonicalField(s.Field)
	for _, r := range rows {
		t, ok := r[field].(time.Time)
		if !ok {
			continue
		}
		r[field] = t.Truncate(span)
	}
	return rows, nil
}
