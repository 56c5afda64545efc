package orm

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"realmdb/internal/entity"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

// Insert пишет новую строку. Автоинкрементный ключ после записи оказывается
// в поле экземпляра; кэшируемая таблица видит экземпляр до возврата.
func (e *Engine) Insert(ctx context.Context, x entity.Tracked) (err error) {
	defer mon.Task()(&ctx)(&err)
	et, err := e.Type(x)
	if err != nil {
		return err
	}
	return e.insert(ctx, et, x)
}

func (e *Engine) insert(ctx context.Context, et *schema.EntityType, x entity.Tracked) error {
	b := x.Tracker()
	if !b.AllowAdd() {
		return violation(ferr(ErrNotAllowed, et.Name, "adding is not allowed"))
	}
	if b.IsPersisted() {
		return ConstraintViolation.New("%s[%v]: already persisted", et.Table, b.Key())
	}

	mu := e.writeLock(et)
	mu.Lock()
	defer mu.Unlock()

	var id string
	if et.ObjectIDColumn() != nil {
		id = b.ObjectID()
	}
	var row store.Row
	gen := b.Capture(func() {
		row = et.Extract(et.Elem(x), id)
	})

	if err := e.validate(ctx, e.store, et, row, nil, nil); err != nil {
		return err
	}

	key, err := e.store.Insert(ctx, et.StoreTable(), row)
	if store.ErrDuplicate.Has(err) {
		return violation(ferr(ErrUniqueViolation, fieldOf(et.Key()), "key is already used"))
	}
	if err != nil {
		return storageErr(err)
	}
	key = store.Normalize(key)

	if et.Key().AutoIncrement {
		var serr error
		b.Locked(func() {
			serr = et.Key().Set(et.Elem(x), key)
		})
		if serr != nil {
			return SchemaError.Wrap(serr)
		}
		row[et.Key().Name] = key
	}

	b.Commit(id, key, row, gen)
	e.cache.Put(et, key, x)
	e.track(et, x)
	return nil
}

// Update пишет изменённые колонки. Чистый экземпляр не пишется вовсе.
func (e *Engine) Update(ctx context.Context, x entity.Tracked) (err error) {
	defer mon.Task()(&ctx)(&err)
	et, err := e.Type(x)
	if err != nil {
		return err
	}
	return e.update(ctx, et, x)
}

func (e *Engine) update(ctx context.Context, et *schema.EntityType, x entity.Tracked) error {
	b := x.Tracker()
	if !b.IsPersisted() {
		return NotFound.New("%s: instance is not persisted", et.Table)
	}
	if !x.IsDirty() {
		return nil
	}

	mu := e.writeLock(et)
	mu.Lock()
	defer mu.Unlock()

	id := b.ObjectID()
	if et.ObjectIDColumn() == nil {
		id = ""
	}
	var row store.Row
	gen := b.Capture(func() {
		row = et.Extract(et.Elem(x), id)
	})
	oldKey := b.Key()

	set, changed := diff(row, b.Snapshot())
	if len(set) == 0 {
		// ничего не поменялось, но тип требует записи: пишем строку целиком
		set = row.Clone()
		delete(set, et.Key().Name)
	}

	if err := e.validate(ctx, e.store, et, row, changed, oldKey); err != nil {
		return err
	}

	err := e.store.Update(ctx, et.StoreTable(), oldKey, set)
	switch {
	case store.ErrNotFound.Has(err):
		return NotFound.New("%s[%v]", et.Table, oldKey)
	case store.ErrDuplicate.Has(err):
		return violation(ferr(ErrUniqueViolation, fieldOf(et.Key()), "key is already used"))
	case err != nil:
		return storageErr(err)
	}

	newKey := row[et.Key().Name]
	b.Commit(id, newKey, row, gen)
	if !store.Equal(oldKey, newKey) {
		e.cache.Invalidate(et, oldKey)
		e.rekey(et, x, oldKey, newKey)
	}
	e.cache.Put(et, newKey, x)
	return nil
}

// diff - колонки row, отличающиеся от снимка.
func diff(row store.Row, snapshot map[string]any) (store.Row, map[string]bool) {
	set := make(store.Row)
	changed := make(map[string]bool)
	for k, v := range row {
		old, ok := snapshot[k]
		if ok && sameValue(old, v) {
			continue
		}
		set[k] = v
		changed[k] = true
	}
	return set, changed
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return store.Compare(a, b) == 0
}

// Save вставляет или обновляет экземпляр, затем сохраняет объекты, лежащие
// в его полях связей. Отказ ребёнка не откатывает уже записанного владельца.
func (e *Engine) Save(ctx context.Context, x entity.Tracked) (err error) {
	defer mon.Task()(&ctx)(&err)
	return e.save(ctx, x, make(map[entity.Tracked]bool))
}

func (e *Engine) save(ctx context.Context, x entity.Tracked, seen map[entity.Tracked]bool) error {
	if seen[x] {
		return nil
	}
	seen[x] = true

	et, err := e.Type(x)
	if err != nil {
		return err
	}
	if x.Tracker().IsPersisted() {
		err = e.update(ctx, et, x)
	} else {
		err = e.insert(ctx, et, x)
	}
	if err != nil {
		return err
	}

	var group errs.Group
	for _, rel := range et.Relations {
		var children []entity.Tracked
		x.Tracker().Locked(func() {
			children = rel.Attached(et.Elem(x))
		})
		for _, c := range children {
			group.Add(e.save(ctx, c, seen))
		}
	}
	return group.Err()
}

// SaveAll пишет грязные экземпляры из набора живых и возвращает, сколько записано.
// autoSaveOnly пропускает экземпляры с закрытым гейтом автосохранения.
// Обходит снимок набора; ошибки отдельных экземпляров собираются вместе.
func (e *Engine) SaveAll(ctx context.Context, autoSaveOnly bool) (saved int, err error) {
	defer mon.Task()(&ctx)(&err)
	all := e.snapshot()

	var group errs.Group
	for _, t := range all {
		if err := ctx.Err(); err != nil {
			group.Add(err)
			break
		}
		x := t.x
		b := x.Tracker()
		if b.IsDeleted() {
			continue
		}
		if autoSaveOnly && !e.autoSaveOpen(t.et, x) {
			continue
		}
		if !x.IsDirty() {
			continue
		}
		var err error
		if b.IsPersisted() {
			err = e.update(ctx, t.et, x)
		} else {
			err = e.insert(ctx, t.et, x)
		}
		if err != nil {
			group.Add(err)
			continue
		}
		saved++
	}

	err = group.Err()
	e.log.Debug("save cycle",
		zap.Bool("auto_save_only", autoSaveOnly),
		zap.Int("tracked", len(all)),
		zap.Int("saved", saved),
		zap.Error(err))
	return saved, err
}

func fieldOf(c *schema.Column) string {
	if c.Field != "" {
		return c.Field
	}
	return c.Name
}
