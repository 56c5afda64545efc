package orm

import (
	"context"

	"go.uber.org/zap"

	"realmdb/internal/entity"
	"realmdb/internal/relation"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

// Delete удаляет строку экземпляра вместе со всем, что достижимо по
// autodelete-связям. Удаление идёт одной транзакцией хранилища: либо
// исчезает всё, либо ничего.
func (e *Engine) Delete(ctx context.Context, x entity.Tracked) (err error) {
	defer mon.Task()(&ctx)(&err)
	et, err := e.Type(x)
	if err != nil {
		return err
	}
	b := x.Tracker()
	if !b.AllowDelete() {
		return violation(ferr(ErrNotAllowed, et.Name, "deleting is not allowed"))
	}
	if !b.IsPersisted() {
		return NotFound.New("%s: instance is not persisted", et.Table)
	}
	key := b.Key()

	var steps []relation.Step
	err = e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		row, err := tx.Get(ctx, et.StoreTable(), key)
		if err != nil {
			return err
		}
		steps, err = e.rel.Plan(ctx, tx, et, row)
		if err != nil {
			return err
		}
		last := len(steps) - 1
		// живой потомок с закрытым гейтом запрещает весь каскад
		for _, st := range steps[:last] {
			if c, ok := e.lookup(st.Type, st.Key); ok && !c.Tracker().AllowDelete() {
				return violation(ferr(ErrNotAllowed, st.Type.Name, "deleting is not allowed"))
			}
		}
		for i, st := range steps {
			if err := tx.Delete(ctx, st.Type.StoreTable(), st.Key); err != nil {
				if i < last {
					return CascadeFailure.New("%s[%v] -> %s[%v]: %v", et.Table, key, st.Type.Table, st.Key, err)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		if store.ErrNotFound.Has(err) {
			return NotFound.New("%s[%v]", et.Table, key)
		}
		if CascadeFailure.Has(err) {
			e.log.Warn("cascade delete rolled back",
				zap.String("table", et.Table),
				zap.Any("key", key),
				zap.Error(err))
		}
		return storageErr(err)
	}

	gone := make(map[*schema.EntityType]map[string]bool)
	for _, st := range steps {
		e.cache.Invalidate(st.Type, st.Key)
		if gone[st.Type] == nil {
			gone[st.Type] = make(map[string]bool)
		}
		gone[st.Type][store.KeyString(st.Key)] = true
	}
	e.Release(x)
	b.Discard()
	e.forget(gone)
	return nil
}
