package relation

import (
	"context"

	"go.uber.org/zap"

	"realmdb/internal/schema"
	"realmdb/internal/store"
)

// Step - одно удаление каскада.
type Step struct {
	Type *schema.EntityType
	Key  any
	Row  store.Row
}

// Plan строит список удалений для строки row типа et: сначала всё, что достижимо
// по autodelete-связям (в глубину, дети раньше родителей), последней - сама строка.
// Читает через tx, чтобы план и удаление видели одни и те же данные.
func (r *Resolver) Plan(ctx context.Context, tx store.Reader, et *schema.EntityType, row store.Row) (_ []Step, err error) {
	defer mon.Task()(&ctx)(&err)
	var steps []Step
	visited := make(map[string]bool)
	if err := r.plan(ctx, tx, et, row, visited, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func (r *Resolver) plan(ctx context.Context, tx store.Reader, et *schema.EntityType, row store.Row, visited map[string]bool, steps *[]Step) error {
	key := row[et.Key().Name]
	id := et.Table + "\x00" + store.KeyString(key)
	if visited[id] {
		return nil
	}
	visited[id] = true

	for _, rel := range et.Relations {
		if !rel.AutoDelete {
			continue
		}
		local := row[rel.Local.Name]
		if schema.Empty(local) {
			continue
		}
		children, err := tx.Select(ctx, rel.Target.StoreTable(), store.Where(store.Eq(rel.Remote.Name, local)))
		if err != nil {
			return err
		}
		if rel.Cardinality == schema.One && len(children) > 1 {
			r.log.Warn("one-relation matches several rows, cascading to all of them",
				zap.String("table", et.Table),
				zap.String("relation", rel.Name),
				zap.Any("local", local),
				zap.Int("matches", len(children)))
		}
		for _, child := range children {
			if err := r.plan(ctx, tx, rel.Target, child, visited, steps); err != nil {
				return err
			}
		}
	}
	*steps = append(*steps, Step{Type: et, Key: key, Row: row})
	return nil
}
