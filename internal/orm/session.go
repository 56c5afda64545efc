package orm

import (
	"context"

	"realmdb/internal/cache"
	"realmdb/internal/entity"
	"realmdb/internal/relation"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

// session - одна операция чтения: карта идентичности, чтобы одна строка
// становилась одним экземпляром, и доступ к кэшу.
type session struct {
	e   *Engine
	r   store.Reader
	ids map[string]entity.Tracked
}

func (e *Engine) session(r store.Reader) *session {
	return &session{e: e, r: r, ids: make(map[string]entity.Tracked)}
}

var (
	_ cache.Source    = (*session)(nil)
	_ relation.Source = (*session)(nil)
)

// Related отдаёт экземпляры et, у которых col принимает одно из values.
// Прогретая таблица отвечает из кэша.
func (s *session) Related(ctx context.Context, et *schema.EntityType, col *schema.Column, values []any) ([]entity.Tracked, error) {
	if all, ok := s.e.cache.Values(et); ok {
		cond := store.In(col.Name, values...)
		var out []entity.Tracked
		for _, x := range all {
			if cond.Match(et.ValueOf(x, col)) {
				out = append(out, x)
			}
		}
		return out, nil
	}
	rows, err := s.r.Select(ctx, et.StoreTable(), store.Where(store.In(col.Name, values...)))
	if err != nil {
		return nil, err
	}
	return s.materialize(ctx, et, rows)
}

// Count - для проверки границы кэша.
func (s *session) Count(ctx context.Context, et *schema.EntityType) (int64, error) {
	return s.r.Count(ctx, et.StoreTable(), nil)
}

// LoadAll читает таблицу целиком с autoload-связями; для прогрева кэша.
func (s *session) LoadAll(ctx context.Context, et *schema.EntityType) ([]cache.Entry, error) {
	rows, err := s.r.Select(ctx, et.StoreTable(), nil)
	if err != nil {
		return nil, err
	}
	xs, err := s.fresh(et, rows)
	if err != nil {
		return nil, err
	}
	if err := s.e.rel.AutoLoad(ctx, s, et, xs); err != nil {
		return nil, err
	}
	out := make([]cache.Entry, len(xs))
	for i, x := range xs {
		out[i] = cache.Entry{Key: rows[i][et.Key().Name], Value: x}
	}
	return out, nil
}

// materialize превращает строки в экземпляры. Строка, уже лежащая в кэше
// или в карте сессии, отдаётся тем же экземпляром.
func (s *session) materialize(ctx context.Context, et *schema.EntityType, rows []store.Row) ([]entity.Tracked, error) {
	out := make([]entity.Tracked, len(rows))
	for i, row := range rows {
		key := row[et.Key().Name]
		if x, ok := s.e.cache.Get(et, key); ok {
			out[i] = x
			s.ids[identity(et, key)] = x
			continue
		}
		x, err := s.one(et, row)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// fresh - как materialize, но мимо кэша. Чистый живой экземпляр строки
// перечитывается из хранилища на месте; с несохранёнными правками остаётся как есть.
func (s *session) fresh(et *schema.EntityType, rows []store.Row) ([]entity.Tracked, error) {
	out := make([]entity.Tracked, len(rows))
	for i, row := range rows {
		key := row[et.Key().Name]
		if x, ok := s.e.lookup(et, key); ok {
			if !x.Tracker().IsDirty() {
				if err := s.e.refill(et, x, row); err != nil {
					return nil, err
				}
			}
			s.ids[identity(et, key)] = x
			out[i] = x
			continue
		}
		x, err := s.one(et, row)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// one отдаёт экземпляр строки. Живой экземпляр возвращается без перезаливки:
// его состояние в памяти новее прочитанной строки.
func (s *session) one(et *schema.EntityType, row store.Row) (entity.Tracked, error) {
	key := row[et.Key().Name]
	id := identity(et, key)
	if x, ok := s.ids[id]; ok {
		return x, nil
	}
	if x, ok := s.e.lookup(et, key); ok {
		s.ids[id] = x
		return x, nil
	}
	x := et.New()
	oid, err := et.Fill(et.Elem(x), row)
	if err != nil {
		return nil, SchemaError.Wrap(err)
	}
	x.Tracker().Commit(oid, key, row, x.Tracker().Capture(func() {}))
	x = s.e.adopt(et, key, x)
	s.ids[id] = x
	return x, nil
}

func identity(et *schema.EntityType, key any) string {
	return rowID(et, store.KeyString(key))
}

func rowID(et *schema.EntityType, key string) string {
	return et.Table + "\x00" + key
}
