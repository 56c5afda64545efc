package api

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/errs"

	"realmdb/internal/store"
)

// ErrQuery - неразборчивый запрос.
var ErrQuery = errs.Class("bad query")

// ListParams - параметры листинга.
type ListParams struct {
	Limit  int
	Offset int
	Where  store.Predicate
}

// parseListParams разбирает _limit/_offset и фильтры вида:
//
//	owner_id=Galahad
//	level__gte=10
//	realm__in=1,2
//	name__ne=Mordred
func parseListParams(q url.Values) (ListParams, error) {
	p := ListParams{Limit: 50}

	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		n, err := strconv.Atoi(lv)
		if err != nil || n < 0 || n > 1000 {
			return p, ErrQuery.New("limit must be within 0..1000")
		}
		p.Limit = n
	}

	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		n, err := strconv.Atoi(ov)
		if err != nil || n < 0 {
			return p, ErrQuery.New("offset must be a non-negative integer")
		}
		p.Offset = n
	}

	where, err := buildConds(q)
	if err != nil {
		return p, err
	}
	p.Where = where
	return p, nil
}

func buildConds(q url.Values) (store.Predicate, error) {
	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	// стабильный порядок условий
	sort.Strings(keys)

	var out store.Predicate
	for _, key := range keys {
		switch key {
		case "offset", "limit", "_offset", "_limit":
			continue
		}
		vals := q[key]
		if len(vals) == 0 {
			continue
		}
		// key: field или field__op
		field, opName := key, ""
		if i := strings.LastIndex(key, "__"); i > 0 {
			field, opName = key[:i], key[i+2:]
		}
		op, ok := store.ParseOp(opName)
		if !ok {
			return nil, ErrQuery.New("%s: unknown operator %q", field, opName)
		}
		v := vals[0]
		if strings.HasPrefix(v, "in:") {
			op = store.OpIn
			v = strings.TrimPrefix(v, "in:")
		}
		cond := store.Cond{Column: field, Op: op}
		switch {
		case op == store.OpIn:
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					cond.Values = append(cond.Values, part)
				}
			}
		case v == "null":
			cond.Values = []any{nil}
		default:
			cond.Values = []any{v}
		}
		out = append(out, cond)
	}
	return out, nil
}

// page режет срез по limit/offset.
func page[T any](xs []T, p ListParams) []T {
	if p.Offset >= len(xs) {
		return xs[:0]
	}
	xs = xs[p.Offset:]
	if p.Limit < len(xs) {
		xs = xs[:p.Limit]
	}
	return xs
}
