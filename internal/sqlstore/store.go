package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"realmdb/internal/schema"
	"realmdb/internal/store"
)

var mon = monkit.Package()

// querier - общее у *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store - store.Store над базой db.
type Store struct {
	log     *zap.Logger
	db      *sql.DB
	dialect Dialect

	mu    sync.RWMutex
	kinds map[string]map[string]schema.Kind // таблица -> колонка -> вид
}

var _ store.Store = (*Store)(nil)

// New оборачивает открытую базу.
func New(log *zap.Logger, db *sql.DB, d Dialect) *Store {
	return &Store{log: log, db: db, dialect: d, kinds: make(map[string]map[string]schema.Kind)}
}

// DB - база под хранилищем.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect - диалект хранилища.
func (s *Store) Dialect() Dialect { return s.dialect }

// Migrate создаёт таблицы и индексы типов, если их ещё нет, и запоминает
// виды колонок для чтения.
func (s *Store) Migrate(ctx context.Context, types []*schema.EntityType) (err error) {
	defer mon.Task()(&ctx)(&err)
	stmts, err := DDL(s.dialect, types)
	if err != nil {
		return err
	}
	for _, et := range types {
		if IsReserved(et.Table) {
			s.log.Warn("table name is a reserved word", zap.String("table", et.Table))
		}
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			if s.dialect.IgnoreDDL(err) {
				s.log.Debug("DDL skipped (already exists)", zap.Error(err))
				continue
			}
			return store.Error.New("DDL apply failed: %v", err)
		}
	}
	s.Describe(types...)
	s.log.Info("schema applied", zap.Int("tables", len(types)), zap.Int("statements", len(stmts)))
	return nil
}

// Describe запоминает виды колонок без DDL.
func (s *Store) Describe(types ...*schema.EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, et := range types {
		m := make(map[string]schema.Kind, len(et.Columns))
		for _, c := range et.Columns {
			m[c.Name] = c.Kind
		}
		s.kinds[et.Table] = m
	}
}

func (s *Store) kindsOf(table string) map[string]schema.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kinds[table]
}

func (s *Store) Get(ctx context.Context, t store.Table, key any) (_ store.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.conn(s.db).Get(ctx, t, key)
}

func (s *Store) Select(ctx context.Context, t store.Table, where store.Predicate) (_ []store.Row, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.conn(s.db).Select(ctx, t, where)
}

func (s *Store) Count(ctx context.Context, t store.Table, where store.Predicate) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.conn(s.db).Count(ctx, t, where)
}

func (s *Store) Insert(ctx context.Context, t store.Table, row store.Row) (_ any, err error) {
	defer mon.Task()(&ctx)(&err)
	return s.conn(s.db).Insert(ctx, t, row)
}

func (s *Store) Update(ctx context.Context, t store.Table, key any, set store.Row) (err error) {
	defer mon.Task()(&ctx)(&err)
	return s.conn(s.db).Update(ctx, t, key, set)
}

func (s *Store) Delete(ctx context.Context, t store.Table, key any) (err error) {
	defer mon.Task()(&ctx)(&err)
	return s.conn(s.db).Delete(ctx, t, key)
}

// WithTx выполняет fn в транзакции базы.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Error.Wrap(err)
	}
	if err := fn(ctx, s.conn(tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return errs.Combine(err, store.Error.New("rollback: %v", rerr))
		}
		return err
	}
	return store.Error.Wrap(tx.Commit())
}

// Close закрывает базу.
func (s *Store) Close() error {
	return store.Error.Wrap(s.db.Close())
}

func (s *Store) conn(q querier) *conn { return &conn{s: s, q: q} }

// conn - операции над базой или над открытой транзакцией.
type conn struct {
	s *Store
	q querier
}

func (c *conn) columns(t store.Table) string {
	parts := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		parts[i] = Ident(col)
	}
	return strings.Join(parts, ", ")
}

func (c *conn) Get(ctx context.Context, t store.Table, key any) (store.Row, error) {
	b := c.builder()
	q := fmt.Sprintf("select %s from %s where %s = %s",
		c.columns(t), Ident(t.Name), Ident(t.Key), b.arg(c.key(t, key)))
	rows, err := c.query(ctx, t, q, b.args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound.New("%s[%v]", t.Name, key)
	}
	return rows[0], nil
}

func (c *conn) Select(ctx context.Context, t store.Table, where store.Predicate) ([]store.Row, error) {
	if err := where.Validate(t); err != nil {
		return nil, err
	}
	b := c.builder()
	q := fmt.Sprintf("select %s from %s%s order by %s",
		c.columns(t), Ident(t.Name), b.where(where, c.s.kindsOf(t.Name)), Ident(t.Key))
	return c.query(ctx, t, q, b.args)
}

func (c *conn) Count(ctx context.Context, t store.Table, where store.Predicate) (int64, error) {
	if err := where.Validate(t); err != nil {
		return 0, err
	}
	b := c.builder()
	q := fmt.Sprintf("select count(*) from %s%s", Ident(t.Name), b.where(where, c.s.kindsOf(t.Name)))
	var n int64
	if err := c.q.QueryRowContext(ctx, q, b.args...).Scan(&n); err != nil {
		return 0, c.wrap(err)
	}
	return n, nil
}

func (c *conn) Insert(ctx context.Context, t store.Table, row store.Row) (any, error) {
	b := c.builder()
	var names, values []string
	for _, col := range t.Columns {
		v, ok := row[col]
		if !ok {
			continue
		}
		if col == t.Key && t.AutoIncrement && store.IsZeroKey(v) {
			continue
		}
		names = append(names, Ident(col))
		values = append(values, b.arg(v))
	}
	q := fmt.Sprintf("insert into %s (%s) values (%s) returning %s",
		Ident(t.Name), strings.Join(names, ", "), strings.Join(values, ", "), Ident(t.Key))

	var key any
	if err := c.q.QueryRowContext(ctx, q, b.args...).Scan(&key); err != nil {
		return nil, c.wrap(err)
	}
	return c.decode(t.Name, t.Key, key), nil
}

func (c *conn) Update(ctx context.Context, t store.Table, key any, set store.Row) error {
	if len(set) == 0 {
		_, err := c.Get(ctx, t, key)
		return err
	}
	b := c.builder()
	var parts []string
	for _, col := range t.Columns {
		v, ok := set[col]
		if !ok {
			continue
		}
		parts = append(parts, Ident(col)+" = "+b.arg(v))
	}
	q := fmt.Sprintf("update %s set %s where %s = %s",
		Ident(t.Name), strings.Join(parts, ", "), Ident(t.Key), b.arg(c.key(t, key)))
	return c.exec(ctx, t, key, q, b.args)
}

func (c *conn) Delete(ctx context.Context, t store.Table, key any) error {
	b := c.builder()
	q := fmt.Sprintf("delete from %s where %s = %s", Ident(t.Name), Ident(t.Key), b.arg(c.key(t, key)))
	return c.exec(ctx, t, key, q, b.args)
}

func (c *conn) exec(ctx context.Context, t store.Table, key any, q string, args []any) error {
	res, err := c.q.ExecContext(ctx, q, args...)
	if err != nil {
		return c.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return c.wrap(err)
	}
	if n == 0 {
		return store.ErrNotFound.New("%s[%v]", t.Name, key)
	}
	return nil
}

func (c *conn) query(ctx context.Context, t store.Table, q string, args []any) (_ []store.Row, err error) {
	rows, err := c.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, c.wrap(err)
	}
	defer func() { err = errs.Combine(err, c.wrap(rows.Close())) }()

	var out []store.Row
	for rows.Next() {
		vals := make([]any, len(t.Columns))
		ptrs := make([]any, len(t.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, c.wrap(err)
		}
		row := make(store.Row, len(t.Columns))
		for i, col := range t.Columns {
			row[col] = c.decode(t.Name, col, vals[i])
		}
		out = append(out, row)
	}
	return out, c.wrap(rows.Err())
}

// key приводит ключ к виду ключевой колонки: из HTTP он приходит строкой.
func (c *conn) key(t store.Table, key any) any {
	return coerce(c.s.kindsOf(t.Name)[t.Key], key)
}

func (c *conn) decode(table, col string, raw any) any {
	return decode(c.s.kindsOf(table)[col], raw)
}

func (c *conn) wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound.Wrap(err)
	case c.s.dialect.IsDuplicate(err):
		return store.ErrDuplicate.Wrap(err)
	}
	return store.Error.Wrap(err)
}
