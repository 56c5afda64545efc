package store

import (
	"fmt"
	"strings"
)

// Op - оператор условия.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpIn  Op = "in"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// ParseOp разбирает имя оператора ("", "eq", "in", ...). Пустое имя - eq.
func ParseOp(s string) (Op, bool) {
	switch op := Op(strings.ToLower(strings.TrimSpace(s))); op {
	case "":
		return OpEq, true
	case OpEq, OpNe, OpIn, OpGt, OpGte, OpLt, OpLte:
		return op, true
	}
	return "", false
}

// Cond - одно сравнение колонки. Для OpIn Values - список, для остальных берётся Values[0].
type Cond struct {
	Column string
	Op     Op
	Values []any
}

// Predicate - конъюнкция условий. Пустой предикат подходит под любую строку.
type Predicate []Cond

// Eq - column = v.
func Eq(column string, v any) Cond { return Cond{Column: column, Op: OpEq, Values: []any{v}} }

// In - column IN (vs...).
func In(column string, vs ...any) Cond { return Cond{Column: column, Op: OpIn, Values: vs} }

// Where собирает предикат из условий.
func Where(conds ...Cond) Predicate { return Predicate(conds) }

// Validate проверяет, что все колонки известны таблице и у операторов есть значения.
func (p Predicate) Validate(t Table) error {
	for _, c := range p {
		if !t.HasColumn(c.Column) {
			return Error.New("%s: unknown column %q", t.Name, c.Column)
		}
		if _, ok := ParseOp(string(c.Op)); !ok {
			return Error.New("%s.%s: unknown operator %q", t.Name, c.Column, c.Op)
		}
		if len(c.Values) == 0 && c.Op != OpIn {
			return Error.New("%s.%s: operator %s needs a value", t.Name, c.Column, c.Op)
		}
	}
	return nil
}

// Match - подходит ли строка под предикат.
func (p Predicate) Match(r Row) bool {
	for _, c := range p {
		if !c.Match(r[c.Column]) {
			return false
		}
	}
	return true
}

// Match сравнивает значение колонки с условием.
// eq/in/ne по nil: nil равен только nil. Сравнения порядка с nil всегда ложны.
func (c Cond) Match(got any) bool {
	switch c.Op {
	case OpEq, "":
		return len(c.Values) > 0 && Equal(got, c.Values[0])
	case OpNe:
		return len(c.Values) > 0 && !Equal(got, c.Values[0])
	case OpIn:
		for _, w := range c.Values {
			if Equal(got, w) {
				return true
			}
		}
		return false
	}
	if got == nil || len(c.Values) == 0 || c.Values[0] == nil {
		return false
	}
	want := c.Values[0]
	if s, ok := want.(string); ok {
		want = coerceLike(got, s)
	}
	rel := Compare(got, want)
	switch c.Op {
	case OpGt:
		return rel > 0
	case OpGte:
		return rel >= 0
	case OpLt:
		return rel < 0
	case OpLte:
		return rel <= 0
	}
	return false
}

func (c Cond) String() string {
	return fmt.Sprintf("%s %s %v", c.Column, c.Op, c.Values)
}

// HasColumn - есть ли колонка в таблице.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}
