package store

import (
	"context"

	"github.com/zeebo/errs"
)

// Journal - Tx поверх хранилища без собственных транзакций: каждая запись
// сопровождается обратной операцией, Rollback применяет их в обратном порядке.
type Journal struct {
	tx   Tx
	undo []func(ctx context.Context) error
}

// NewJournal оборачивает tx.
func NewJournal(tx Tx) *Journal { return &Journal{tx: tx} }

var _ Tx = (*Journal)(nil)

// RunJournaled выполняет fn через журнал и откатывает её записи, если fn вернула ошибку.
func RunJournaled(ctx context.Context, base Tx, fn func(ctx context.Context, tx Tx) error) error {
	j := NewJournal(base)
	if err := fn(ctx, j); err != nil {
		if rbErr := j.Rollback(ctx); rbErr != nil {
			return errs.Combine(err, Error.New("rollback: %v", rbErr))
		}
		return err
	}
	return nil
}

func (j *Journal) Get(ctx context.Context, t Table, key any) (Row, error) {
	return j.tx.Get(ctx, t, key)
}

func (j *Journal) Select(ctx context.Context, t Table, where Predicate) ([]Row, error) {
	return j.tx.Select(ctx, t, where)
}

func (j *Journal) Count(ctx context.Context, t Table, where Predicate) (int64, error) {
	return j.tx.Count(ctx, t, where)
}

func (j *Journal) Insert(ctx context.Context, t Table, row Row) (any, error) {
	key, err := j.tx.Insert(ctx, t, row)
	if err != nil {
		return nil, err
	}
	j.undo = append(j.undo, func(ctx context.Context) error {
		return j.tx.Delete(ctx, t, key)
	})
	return key, nil
}

func (j *Journal) Update(ctx context.Context, t Table, key any, set Row) error {
	prev, err := j.tx.Get(ctx, t, key)
	if err != nil {
		return err
	}
	if err := j.tx.Update(ctx, t, key, set); err != nil {
		return err
	}
	back := make(Row, len(set))
	for k := range set {
		back[k] = prev[k]
	}
	newKey := key
	if v, ok := set[t.Key]; ok {
		newKey = v
	}
	j.undo = append(j.undo, func(ctx context.Context) error {
		return j.tx.Update(ctx, t, newKey, back)
	})
	return nil
}

func (j *Journal) Delete(ctx context.Context, t Table, key any) error {
	prev, err := j.tx.Get(ctx, t, key)
	if err != nil {
		return err
	}
	if err := j.tx.Delete(ctx, t, key); err != nil {
		return err
	}
	j.undo = append(j.undo, func(ctx context.Context) error {
		_, err := j.tx.Insert(ctx, t, prev)
		return err
	})
	return nil
}

// Rollback отменяет все записанные операции, от последней к первой.
func (j *Journal) Rollback(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	var group errs.Group
	for i := len(j.undo) - 1; i >= 0; i-- {
		group.Add(j.undo[i](ctx))
	}
	j.undo = nil
	return group.Err()
}
