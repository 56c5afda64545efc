package orm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"realmdb/internal/schema"
	"realmdb/internal/store"
)

// validate проверяет строку перед записью: notnull, длину и уникальность.
// changed - колонки, которые пишутся (nil - все); unique проверяется только
// для наборов, задетых изменением. self - ключ самой строки, её совпадения не в счёт.
func (e *Engine) validate(ctx context.Context, r store.Reader, et *schema.EntityType, row store.Row, changed map[string]bool, self any) error {
	var fe FieldErrors

	for _, c := range et.Columns {
		if c.AutoIncrement || c.ObjectID {
			continue
		}
		v := row[c.Name]
		if !c.Nullable && schema.Empty(v) {
			fe = append(fe, ferr(ErrRequired, c.Field, "is required"))
			continue
		}
		if s, ok := v.(string); ok && c.MaxLength > 0 && utf8.RuneCountInString(s) > c.MaxLength {
			fe = append(fe, ferr(ErrTooLong, c.Field, fmt.Sprintf("longer than %d characters", c.MaxLength)))
		}
	}
	if len(fe) > 0 {
		return ConstraintViolation.Wrap(fe)
	}

	for _, set := range et.UniqueSets() {
		if !touches(set, changed) {
			continue
		}
		taken, err := e.taken(ctx, r, et, set, row, self)
		if err != nil {
			return storageErr(err)
		}
		if taken {
			fields := make([]string, len(set))
			for i, c := range set {
				fields[i] = c.Field
			}
			field := strings.Join(fields, ",")
			msg := "must be unique"
			if len(set) > 1 {
				msg = "combination must be unique"
			}
			fe = append(fe, ferr(ErrUniqueViolation, field, msg))
		}
	}
	if len(fe) > 0 {
		return ConstraintViolation.Wrap(fe)
	}
	return nil
}

func touches(set []*schema.Column, changed map[string]bool) bool {
	if changed == nil {
		return true
	}
	for _, c := range set {
		if changed[c.Name] {
			return true
		}
	}
	return false
}

// taken - есть ли другая строка с теми же значениями набора. Незаполненные
// значения не совпадают ни с чем.
func (e *Engine) taken(ctx context.Context, r store.Reader, et *schema.EntityType, set []*schema.Column, row store.Row, self any) (bool, error) {
	where := make(store.Predicate, 0, len(set))
	for _, c := range set {
		v := row[c.Name]
		if schema.Empty(v) {
			return false, nil
		}
		where = append(where, store.Eq(c.Name, v))
	}
	rows, err := r.Select(ctx, et.StoreTable(), where)
	if err != nil {
		return false, err
	}
	for _, other := range rows {
		if self == nil || !store.Equal(other[et.Key().Name], self) {
			return true, nil
		}
	}
	return false, nil
}
