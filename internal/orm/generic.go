package orm

import (
	"context"
	"reflect"

	"realmdb/internal/entity"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

// Ptr - ограничение для типизированных помощников: *T хранится движком.
type Ptr[T any] interface {
	*T
	entity.Tracked
}

// TypeOf - дескриптор типа T.
func TypeOf[T any, PT Ptr[T]](e *Engine) (*schema.EntityType, error) {
	return e.typeOf(reflect.TypeFor[T]())
}

// Load читает *T по ключу.
func Load[T any, PT Ptr[T]](ctx context.Context, e *Engine, key any) (PT, error) {
	et, err := TypeOf[T, PT](e)
	if err != nil {
		return nil, err
	}
	x, err := e.Load(ctx, et, key)
	if err != nil {
		return nil, err
	}
	return x.(PT), nil
}

// LoadMany читает *T по списку ключей; nil на месте отсутствующих.
func LoadMany[T any, PT Ptr[T]](ctx context.Context, e *Engine, keys ...any) ([]PT, error) {
	et, err := TypeOf[T, PT](e)
	if err != nil {
		return nil, err
	}
	xs, err := e.LoadMany(ctx, et, keys)
	if err != nil {
		return nil, err
	}
	return cast[T, PT](xs), nil
}

// Find - *T под условиями, по возрастанию ключа.
func Find[T any, PT Ptr[T]](ctx context.Context, e *Engine, where ...store.Cond) ([]PT, error) {
	et, err := TypeOf[T, PT](e)
	if err != nil {
		return nil, err
	}
	xs, err := e.Find(ctx, et, store.Where(where...))
	if err != nil {
		return nil, err
	}
	return cast[T, PT](xs), nil
}

// SelectAll - вся таблица T.
func SelectAll[T any, PT Ptr[T]](ctx context.Context, e *Engine) ([]PT, error) {
	return Find[T, PT](ctx, e)
}

// Count - число строк T под условиями.
func Count[T any, PT Ptr[T]](ctx context.Context, e *Engine, where ...store.Cond) (int64, error) {
	et, err := TypeOf[T, PT](e)
	if err != nil {
		return 0, err
	}
	return e.Count(ctx, et, store.Where(where...))
}

// ResolveOne - объект по связи "one" или nil.
func ResolveOne[T any, PT Ptr[T]](ctx context.Context, e *Engine, owner entity.Tracked, rel string) (PT, error) {
	xs, err := e.Resolve(ctx, owner, rel)
	if err != nil || len(xs) == 0 {
		return nil, err
	}
	x, ok := xs[0].(PT)
	if !ok {
		return nil, SchemaError.New("relation %q does not hold %s", rel, reflect.TypeFor[T]())
	}
	return x, nil
}

// ResolveMany - объекты по связи свежим срезом.
func ResolveMany[T any, PT Ptr[T]](ctx context.Context, e *Engine, owner entity.Tracked, rel string) ([]PT, error) {
	xs, err := e.Resolve(ctx, owner, rel)
	if err != nil {
		return nil, err
	}
	out := make([]PT, 0, len(xs))
	for _, x := range xs {
		p, ok := x.(PT)
		if !ok {
			return nil, SchemaError.New("relation %q does not hold %s", rel, reflect.TypeFor[T]())
		}
		out = append(out, p)
	}
	return out, nil
}

func cast[T any, PT Ptr[T]](xs []entity.Tracked) []PT {
	out := make([]PT, len(xs))
	for i, x := range xs {
		if x != nil {
			out[i] = x.(PT)
		}
	}
	return out
}
