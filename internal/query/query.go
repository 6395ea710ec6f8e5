// Package query evaluates Mongo-style filter, sort and projection options
// against schema-less documents.
//
// SUPPORTED FILTER SYNTAX:
//
//	{"name": "ann"}                          equality (array fields match if any element equals)
//	{"age": {"$gte": 18, "$lt": 65}}         $eq $ne $gt $gte $lt $lte
//	{"group": {"$in": ["admin", "user"]}}    $in $nin
//	{"email": {"$exists": true}}             $exists
//	{"name": {"$regex": "an", "$options": "i"}}
//	{"$or": [{...}, {...}]}                  $or $and $nor
//	{"turn._id": "abc"}                      dotted paths into nested objects
//
// Anything else is rejected with ErrUnsupported so a typo in a filter never
// silently matches everything.
package query

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sakif/pairshot/internal/model"
)

// ErrUnsupported is returned for unknown operators or malformed operands.
var ErrUnsupported = errors.New("query: unsupported filter")

// Options mirrors the find options accepted by the document store.
type Options struct {
	Filter map[string]any
	Sort   []SortKey
	Fields map[string]any
	Skip   int
	Limit  int
}

// SortKey orders by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// ParseSort turns {"field": 1, "other": -1} into sort keys. JSON objects
// carry no key order once decoded, so keys are applied alphabetically.
func ParseSort(order map[string]any) []SortKey {
	keys := make([]string, 0, len(order))
	for k := range order {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]SortKey, 0, len(keys))
	for _, k := range keys {
		desc := false
		if n, ok := toFloat(order[k]); ok {
			desc = n < 0
		} else if s, ok := order[k].(string); ok {
			desc = s == "-1" || strings.EqualFold(s, "desc")
		}
		out = append(out, SortKey{Field: k, Desc: desc})
	}
	return out
}

// Match reports whether doc satisfies filter. An empty filter matches all.
func Match(doc model.Document, filter map[string]any) (bool, error) {
	for key, cond := range filter {
		var (
			ok  bool
			err error
		)
		switch key {
		case "$or":
			ok, err = matchLogical(doc, cond, func(hits, total int) bool { return hits > 0 })
		case "$and":
			ok, err = matchLogical(doc, cond, func(hits, total int) bool { return hits == total })
		case "$nor":
			ok, err = matchLogical(doc, cond, func(hits, total int) bool { return hits == 0 })
		default:
			if strings.HasPrefix(key, "$") {
				return false, fmt.Errorf("%w: operator %s", ErrUnsupported, key)
			}
			val, present := Lookup(doc, key)
			ok, err = matchField(val, present, cond)
		}
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// FilterPaths lists every field path filter reads, descending into $or,
// $and and $nor clauses. Paths are returned as written ("turn._id").
func FilterPaths(filter map[string]any) []string {
	var out []string
	for key, cond := range filter {
		switch key {
		case "$or", "$and", "$nor":
			clauses, _ := cond.([]any)
			for _, c := range clauses {
				if sub, ok := asMap(c); ok {
					out = append(out, FilterPaths(sub)...)
				}
			}
		default:
			if !strings.HasPrefix(key, "$") {
				out = append(out, key)
			}
		}
	}
	return out
}

// RootField is the top-level field of a dotted path.
func RootField(path string) string {
	root, _, _ := strings.Cut(path, ".")
	return root
}

func matchLogical(doc model.Document, cond any, decide func(hits, total int) bool) (bool, error) {
	clauses, ok := cond.([]any)
	if !ok {
		return false, fmt.Errorf("%w: logical operator needs an array", ErrUnsupported)
	}
	hits := 0
	for _, c := range clauses {
		sub, ok := asMap(c)
		if !ok {
			return false, fmt.Errorf("%w: logical clause must be an object", ErrUnsupported)
		}
		m, err := Match(doc, sub)
		if err != nil {
			return false, err
		}
		if m {
			hits++
		}
	}
	return decide(hits, len(clauses)), nil
}

func matchField(val any, present bool, cond any) (bool, error) {
	ops, isMap := asMap(cond)
	if !isMap || !hasOperators(ops) {
		return equalsOrContains(val, cond), nil
	}

	for op, arg := range ops {
		var ok bool
		switch op {
		case "$eq":
			ok = equalsOrContains(val, arg)
		case "$ne":
			ok = !equalsOrContains(val, arg)
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false, nil
			}
			c, comparable := compare(val, arg)
			if !comparable {
				return false, nil
			}
			ok = (op == "$gt" && c > 0) || (op == "$gte" && c >= 0) ||
				(op == "$lt" && c < 0) || (op == "$lte" && c <= 0)
		case "$in", "$nin":
			list, isList := arg.([]any)
			if !isList {
				return false, fmt.Errorf("%w: %s needs an array", ErrUnsupported, op)
			}
			found := false
			for _, candidate := range list {
				if equalsOrContains(val, candidate) {
					found = true
					break
				}
			}
			ok = found == (op == "$in")
		case "$exists":
			ok = present == model.Truthy(arg)
		case "$regex":
			re, err := compileRegex(arg, ops["$options"])
			if err != nil {
				return false, err
			}
			ok = regexMatches(re, val)
		case "$options":
			ok = true
		default:
			return false, fmt.Errorf("%w: operator %s", ErrUnsupported, op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func hasOperators(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func compileRegex(pattern, options any) (*regexp.Regexp, error) {
	p, ok := pattern.(string)
	if !ok {
		return nil, fmt.Errorf("%w: $regex needs a string", ErrUnsupported)
	}
	if opts, _ := options.(string); strings.Contains(opts, "i") {
		p = "(?i)" + p
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return re, nil
}

func regexMatches(re *regexp.Regexp, val any) bool {
	switch v := val.(type) {
	case string:
		return re.MatchString(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && re.MatchString(s) {
				return true
			}
		}
	}
	return false
}

// equalsOrContains implements Mongo's equality: an array field matches when
// the whole array equals the operand or any element does.
func equalsOrContains(val, want any) bool {
	if equal(val, want) {
		return true
	}
	if arr, ok := val.([]any); ok {
		for _, item := range arr {
			if equal(item, want) {
				return true
			}
		}
	}
	return false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if ma, ok := asMap(a); ok {
		mb, ok := asMap(b)
		return ok && reflect.DeepEqual(ma, mb)
	}
	return reflect.DeepEqual(a, b)
}

// compare orders numbers, strings and bools. Mixed or other types are not
// comparable.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ba == bb:
			return 0, true
		case !ba:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case model.Document:
		return m, true
	}
	return nil, false
}

// Lookup resolves a dotted path ("turn._id") inside doc.
func Lookup(doc model.Document, path string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Sort orders docs in place. Missing values sort first, like Mongo's nulls.
func Sort(docs []model.Document, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, aok := Lookup(docs[i], k.Field)
			b, bok := Lookup(docs[j], k.Field)
			var c int
			switch {
			case !aok && !bok:
				c = 0
			case !aok:
				c = -1
			case !bok:
				c = 1
			default:
				c, _ = compare(a, b)
			}
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Project applies a fields projection. {"name": 1} keeps only name (and _id);
// {"password": 0} drops password. _id is kept unless explicitly excluded.
func Project(doc model.Document, fields map[string]any) model.Document {
	if len(fields) == 0 {
		return doc
	}

	include := false
	for k, v := range fields {
		if k != model.KeyID && model.Truthy(v) {
			include = true
			break
		}
	}

	if !include {
		out := doc.Without()
		for k, v := range fields {
			if !model.Truthy(v) {
				delete(out, k)
			}
		}
		return out
	}

	out := model.Document{}
	if v, ok := fields[model.KeyID]; !ok || model.Truthy(v) {
		if id, ok := doc[model.KeyID]; ok {
			out[model.KeyID] = id
		}
	}
	for k, v := range fields {
		if !model.Truthy(v) {
			continue
		}
		if val, ok := doc[k]; ok {
			out[k] = val
		}
	}
	return out
}

// Apply runs filter, sort, skip, limit and projection over docs, which the
// caller has already loaded. It returns the page and the number of matches
// before paging.
func Apply(docs []model.Document, opts Options) ([]model.Document, int, error) {
	matched := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		ok, err := Match(d, opts.Filter)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, d)
		}
	}
	total := len(matched)

	Sort(matched, opts.Sort)

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}

	if len(opts.Fields) > 0 {
		for i := range matched {
			matched[i] = Project(matched[i], opts.Fields)
		}
	}
	return matched, total, nil
}

// CoerceStrings converts "true"/"false" and numeric strings inside a filter
// that came from a query string, recursing into nested objects and arrays.
func CoerceStrings(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = CoerceStrings(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CoerceStrings(item)
		}
		return out
	case string:
		switch t {
		case "true":
			return true
		case "false":
			return false
		}
		if n, ok := parseNumber(t); ok {
			return n
		}
	}
	return v
}

// parseNumber accepts plain decimal numbers only, so values such as "NaN",
// "Inf" or "0x10" stay strings.
func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' && !(i == 0 && r == '-') {
			return 0, false
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	return n, err == nil
}
