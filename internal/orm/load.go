package orm

import (
	"context"

	"realmdb/internal/entity"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

// ensureWarm прогревает кэшируемую таблицу при первом обращении.
// Для некэшируемых возвращает false.
func (e *Engine) ensureWarm(ctx context.Context, et *schema.EntityType) (bool, error) {
	if !e.cache.Enabled(et) {
		return false, nil
	}
	if e.cache.Warm(et) {
		return true, nil
	}
	if err := e.cache.WarmUp(ctx, et, e.session(e.store)); err != nil {
		return false, e.cacheErr(err)
	}
	return true, nil
}

// Load читает экземпляр по ключу: из кэша, если таблица кэшируется, иначе из
// хранилища, с autoload-связями.
func (e *Engine) Load(ctx context.Context, et *schema.EntityType, key any) (_ entity.Tracked, err error) {
	defer mon.Task()(&ctx)(&err)
	cached, err := e.ensureWarm(ctx, et)
	if err != nil {
		return nil, err
	}
	if cached {
		if x, ok := e.cache.Get(et, key); ok {
			return x, nil
		}
		return nil, NotFound.New("%s[%v]", et.Table, key)
	}

	row, err := e.store.Get(ctx, et.StoreTable(), key)
	if store.ErrNotFound.Has(err) {
		return nil, NotFound.New("%s[%v]", et.Table, key)
	}
	if err != nil {
		return nil, storageErr(err)
	}
	xs, err := e.hydrate(ctx, e.session(e.store), et, []store.Row{row})
	if err != nil {
		return nil, err
	}
	return xs[0], nil
}

// LoadMany читает экземпляры по списку ключей одной выборкой. Результат
// выровнен по keys: для отсутствующих ключей - nil.
func (e *Engine) LoadMany(ctx context.Context, et *schema.EntityType, keys []any) (_ []entity.Tracked, err error) {
	defer mon.Task()(&ctx)(&err)
	out := make([]entity.Tracked, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cached, err := e.ensureWarm(ctx, et)
	if err != nil {
		return nil, err
	}
	if cached {
		for i, k := range keys {
			if x, ok := e.cache.Get(et, k); ok {
				out[i] = x
			}
		}
		return out, nil
	}

	rows, err := e.store.Select(ctx, et.StoreTable(), store.Where(store.In(et.Key().Name, keys...)))
	if err != nil {
		return nil, storageErr(err)
	}
	xs, err := e.hydrate(ctx, e.session(e.store), et, rows)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]entity.Tracked, len(xs))
	for i, x := range xs {
		byKey[store.KeyString(rows[i][et.Key().Name])] = x
	}
	for i, k := range keys {
		out[i] = byKey[store.KeyString(store.Normalize(k))]
	}
	return out, nil
}

// Find - экземпляры, подходящие под where, по возрастанию ключа.
// Всегда идёт в хранилище; autoload-связи грузятся одной выборкой на связь.
func (e *Engine) Find(ctx context.Context, et *schema.EntityType, where store.Predicate) (_ []entity.Tracked, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := where.Validate(et.StoreTable()); err != nil {
		return nil, ConstraintViolation.Wrap(err)
	}
	rows, err := e.store.Select(ctx, et.StoreTable(), where)
	if err != nil {
		return nil, storageErr(err)
	}
	return e.hydrate(ctx, e.session(e.store), et, rows)
}

// SelectAll - вся таблица.
func (e *Engine) SelectAll(ctx context.Context, et *schema.EntityType) ([]entity.Tracked, error) {
	return e.Find(ctx, et, nil)
}

// Count - число строк под where.
func (e *Engine) Count(ctx context.Context, et *schema.EntityType, where store.Predicate) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	if err := where.Validate(et.StoreTable()); err != nil {
		return 0, ConstraintViolation.Wrap(err)
	}
	n, err := e.store.Count(ctx, et.StoreTable(), where)
	return n, storageErr(err)
}

// hydrate - строки в экземпляры плюс autoload-связи.
func (e *Engine) hydrate(ctx context.Context, s *session, et *schema.EntityType, rows []store.Row) ([]entity.Tracked, error) {
	xs, err := s.materialize(ctx, et, rows)
	if err != nil {
		return nil, err
	}
	if err := e.rel.AutoLoad(ctx, s, et, xs); err != nil {
		return nil, storageErr(err)
	}
	return xs, nil
}

// FillRelations заполняет все связи экземпляра, включая не-autoload.
func (e *Engine) FillRelations(ctx context.Context, x entity.Tracked) (err error) {
	defer mon.Task()(&ctx)(&err)
	et, err := e.Type(x)
	if err != nil {
		return err
	}
	return storageErr(e.rel.FillAll(ctx, e.session(e.store), et, []entity.Tracked{x}))
}

// Resolve - объекты, связанные с x через связь relName, свежим срезом.
func (e *Engine) Resolve(ctx context.Context, x entity.Tracked, relName string) (_ []entity.Tracked, err error) {
	defer mon.Task()(&ctx)(&err)
	et, err := e.Type(x)
	if err != nil {
		return nil, err
	}
	rel := et.Relation(relName)
	if rel == nil {
		return nil, SchemaError.New("%s has no relation %q", et.Name, relName)
	}
	s := e.session(e.store)
	out, err := e.rel.Resolve(ctx, s, et, x, rel)
	if err != nil {
		return nil, storageErr(err)
	}
	if err := e.rel.AutoLoad(ctx, s, rel.Target, out); err != nil {
		return nil, storageErr(err)
	}
	return out, nil
}
