// Package relation разрешает связи между сущностями: пакетная загрузка
// (один запрос на связь, а не на владельца) и план каскадного удаления.
package relation

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"realmdb/internal/entity"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

var mon = monkit.Package()

// Source отдаёт экземпляры типа t, у которых column принимает одно из values,
// по возрастанию ключа. Одинаковые строки должны приходить одним и тем же экземпляром.
type Source interface {
	Related(ctx context.Context, t *schema.EntityType, column *schema.Column, values []any) ([]entity.Tracked, error)
}

// Resolver - разрешение связей. Реестр типов только читает.
type Resolver struct {
	log *zap.Logger
}

// New создаёт Resolver.
func New(log *zap.Logger) *Resolver {
	return &Resolver{log: log}
}

// Resolve возвращает объекты, связанные с e через rel, свежим срезом.
// Для связи "one" в срезе не больше одного элемента. Поле связи у e не меняется.
func (r *Resolver) Resolve(ctx context.Context, src Source, et *schema.EntityType, e entity.Tracked, rel *schema.Relation) (_ []entity.Tracked, err error) {
	defer mon.Task()(&ctx)(&err)
	groups, err := r.fetch(ctx, src, et, []entity.Tracked{e}, rel)
	if err != nil {
		return nil, err
	}
	matches := groups[localKey(et, e, rel)]
	if rel.Cardinality == schema.One && len(matches) > 1 {
		r.warnMany(et, e, rel, len(matches))
		matches = matches[:1]
	}
	return append([]entity.Tracked(nil), matches...), nil
}

// AutoLoad заполняет autoload-связи владельцев и, рекурсивно, загруженных объектов.
func (r *Resolver) AutoLoad(ctx context.Context, src Source, et *schema.EntityType, owners []entity.Tracked) (err error) {
	defer mon.Task()(&ctx)(&err)
	return r.fill(ctx, src, et, owners, false, make(map[entity.Tracked]bool))
}

// FillAll заполняет все связи владельцев, включая не-autoload; у загруженных
// объектов дальше идут только autoload-связи.
func (r *Resolver) FillAll(ctx context.Context, src Source, et *schema.EntityType, owners []entity.Tracked) (err error) {
	defer mon.Task()(&ctx)(&err)
	return r.fill(ctx, src, et, owners, true, make(map[entity.Tracked]bool))
}

func (r *Resolver) fill(ctx context.Context, src Source, et *schema.EntityType, owners []entity.Tracked, all bool, visited map[entity.Tracked]bool) error {
	var fresh []entity.Tracked
	for _, o := range owners {
		if o != nil && !visited[o] {
			visited[o] = true
			fresh = append(fresh, o)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	type next struct {
		et   *schema.EntityType
		rows []entity.Tracked
	}
	var queue []next

	for _, rel := range et.Relations {
		if !rel.AutoLoad && !all {
			continue
		}
		groups, err := r.fetch(ctx, src, et, fresh, rel)
		if err != nil {
			return err
		}
		var loaded []entity.Tracked
		for _, o := range fresh {
			matches := groups[localKey(et, o, rel)]
			if rel.Cardinality == schema.One && len(matches) > 1 {
				r.warnMany(et, o, rel, len(matches))
			}
			o.Tracker().Locked(func() {
				rel.Attach(et.Elem(o), matches)
			})
			loaded = append(loaded, matches...)
		}
		if len(loaded) > 0 {
			queue = append(queue, next{et: rel.Target, rows: loaded})
		}
	}

	for _, n := range queue {
		if err := r.fill(ctx, src, n.et, n.rows, false, visited); err != nil {
			return err
		}
	}
	return nil
}

// fetch делает одну выборку для связи по всем владельцам и группирует
// результат по значению remote-колонки.
func (r *Resolver) fetch(ctx context.Context, src Source, et *schema.EntityType, owners []entity.Tracked, rel *schema.Relation) (map[string][]entity.Tracked, error) {
	seen := make(map[string]bool)
	var values []any
	for _, o := range owners {
		v := et.ValueOf(o, rel.Local)
		if schema.Empty(v) {
			continue
		}
		ks := store.KeyString(v)
		if !seen[ks] {
			seen[ks] = true
			values = append(values, v)
		}
	}
	groups := make(map[string][]entity.Tracked)
	if len(values) == 0 {
		return groups, nil
	}

	related, err := src.Related(ctx, rel.Target, rel.Remote, values)
	if err != nil {
		return nil, err
	}
	for _, x := range related {
		ks := store.KeyString(rel.Target.ValueOf(x, rel.Remote))
		groups[ks] = append(groups[ks], x)
	}
	return groups, nil
}

func localKey(et *schema.EntityType, e entity.Tracked, rel *schema.Relation) string {
	v := et.ValueOf(e, rel.Local)
	if schema.Empty(v) {
		return "\x00"
	}
	return store.KeyString(v)
}

func (r *Resolver) warnMany(et *schema.EntityType, e entity.Tracked, rel *schema.Relation, n int) {
	r.log.Warn("one-relation matches several rows, using the lowest key",
		zap.String("table", et.Table),
		zap.String("relation", rel.Name),
		zap.Any("local", et.ValueOf(e, rel.Local)),
		zap.String("target", rel.Target.Table),
		zap.Int("matches", n))
}
