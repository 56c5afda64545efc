// Package storelogger журналирует каждую операцию хранилища через zap.
package storelogger

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"realmdb/internal/store"
)

var mon = monkit.Package()

var id int64

// Logger оборачивает store.Store и пишет Debug на каждую операцию.
type Logger struct {
	log   *zap.Logger
	store store.Store
}

var _ store.Store = (*Logger)(nil)

// New создаёт Logger; у каждого экземпляра свой номер в имени логгера.
func New(log *zap.Logger, s store.Store) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	return &Logger{log.Named("store").Named(strconv.FormatInt(loggerid, 10)), s}
}

func (l *Logger) Get(ctx context.Context, t store.Table, key any) (_ store.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	l.log.Debug("Get", zap.String("table", t.Name), zap.Any("key", key))
	return l.store.Get(ctx, t, key)
}

func (l *Logger) Select(ctx context.Context, t store.Table, where store.Predicate) (_ []store.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	rows, err := l.store.Select(ctx, t, where)
	l.log.Debug("Select", zap.String("table", t.Name), zap.Stringers("where", []store.Cond(where)), zap.Int("rows", len(rows)), zap.Error(err))
	return rows, err
}

func (l *Logger) Count(ctx context.Context, t store.Table, where store.Predicate) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	l.log.Debug("Count", zap.String("table", t.Name), zap.Stringers("where", []store.Cond(where)))
	return l.store.Count(ctx, t, where)
}

func (l *Logger) Insert(ctx context.Context, t store.Table, row store.Row) (_ any, err error) {
	defer mon.Task()(&ctx)(&err)
	key, err := l.store.Insert(ctx, t, row)
	l.log.Debug("Insert", zap.String("table", t.Name), zap.Any("key", key), zap.Int("columns", len(row)), zap.Error(err))
	return key, err
}

func (l *Logger) Update(ctx context.Context, t store.Table, key any, set store.Row) (err error) {
	defer mon.Task()(&ctx)(&err)
	l.log.Debug("Update", zap.String("table", t.Name), zap.Any("key", key), zap.Strings("columns", columns(set)))
	return l.store.Update(ctx, t, key, set)
}

func (l *Logger) Delete(ctx context.Context, t store.Table, key any) (err error) {
	defer mon.Task()(&ctx)(&err)
	l.log.Debug("Delete", zap.String("table", t.Name), zap.Any("key", key))
	return l.store.Delete(ctx, t, key)
}

// WithTx журналирует и операции внутри транзакции.
func (l *Logger) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	l.log.Debug("Begin")
	err = l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &txLogger{log: l.log.Named("tx"), tx: tx})
	})
	if err != nil {
		l.log.Debug("Rollback", zap.Error(err))
		return err
	}
	l.log.Debug("Commit")
	return nil
}

func (l *Logger) Close() error {
	l.log.Debug("Close")
	return l.store.Close()
}

type txLogger struct {
	log *zap.Logger
	tx  store.Tx
}

func (l *txLogger) Get(ctx context.Context, t store.Table, key any) (store.Row, error) {
	l.log.Debug("Get", zap.String("table", t.Name), zap.Any("key", key))
	return l.tx.Get(ctx, t, key)
}

func (l *txLogger) Select(ctx context.Context, t store.Table, where store.Predicate) ([]store.Row, error) {
	l.log.Debug("Select", zap.String("table", t.Name), zap.Stringers("where", []store.Cond(where)))
	return l.tx.Select(ctx, t, where)
}

func (l *txLogger) Count(ctx context.Context, t store.Table, where store.Predicate) (int64, error) {
	l.log.Debug("Count", zap.String("table", t.Name), zap.Stringers("where", []store.Cond(where)))
	return l.tx.Count(ctx, t, where)
}

func (l *txLogger) Insert(ctx context.Context, t store.Table, row store.Row) (any, error) {
	l.log.Debug("Insert", zap.String("table", t.Name), zap.Int("columns", len(row)))
	return l.tx.Insert(ctx, t, row)
}

func (l *txLogger) Update(ctx context.Context, t store.Table, key any, set store.Row) error {
	l.log.Debug("Update", zap.String("table", t.Name), zap.Any("key", key), zap.Strings("columns", columns(set)))
	return l.tx.Update(ctx, t, key, set)
}

func (l *txLogger) Delete(ctx context.Context, t store.Table, key any) error {
	l.log.Debug("Delete", zap.String("table", t.Name), zap.Any("key", key))
	return l.tx.Delete(ctx, t, key)
}

func columns(r store.Row) []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	return out
}
