// Package teststore - тестовый двойник хранилища: считает вызовы и умеет
// отказывать по заказу. По умолчанию работает поверх store.Memory.
package teststore

import (
	"context"
	"sync"

	"github.com/zeebo/errs"

	"realmdb/internal/store"
)

// ErrInjected - класс ошибок, которые двойник возвращает по заказу.
var ErrInjected = errs.Class("injected")

// Op - вид операции для счётчиков и отказов.
type Op string

const (
	OpGet    Op = "get"
	OpSelect Op = "select"
	OpCount  Op = "count"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Fault решает, отказать ли операции op над строкой key таблицы table.
// Для Select/Count key равен nil.
type Fault func(op Op, table string, key any) error

// Client - счётчики и инъекции поверх настоящего хранилища.
type Client struct {
	store.Store

	mu     sync.Mutex
	calls  map[Op]int
	tables map[string]int
	faults []Fault
	down   error
}

var _ store.Store = (*Client)(nil)

// New оборачивает inner; nil - свежий store.Memory.
func New(inner store.Store) *Client {
	if inner == nil {
		inner = store.NewMemory()
	}
	return &Client{Store: inner, calls: make(map[Op]int), tables: make(map[string]int)}
}

// Calls - сколько раз вызвали op.
func (c *Client) Calls(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// TableCalls - сколько операций любого вида пришло на таблицу.
func (c *Client) TableCalls(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables[table]
}

// Total - все вызовы.
func (c *Client) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// Reset обнуляет счётчики.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = make(map[Op]int)
	c.tables = make(map[string]int)
}

// Inject добавляет правило отказа.
func (c *Client) Inject(f Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, f)
}

// FailOn - отказ операции op над конкретной строкой.
func (c *Client) FailOn(op Op, table string, key any) {
	c.Inject(func(gotOp Op, gotTable string, gotKey any) error {
		if gotOp == op && gotTable == table && store.Equal(gotKey, key) {
			return ErrInjected.New("%s %s[%v]", op, table, key)
		}
		return nil
	})
}

// SetDown делает хранилище недоступным (err != nil) или возвращает его (nil).
func (c *Client) SetDown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = err
}

// ClearFaults снимает все правила и недоступность.
func (c *Client) ClearFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = nil
	c.down = nil
}

func (c *Client) hit(op Op, table string, key any) error {
	c.mu.Lock()
	c.calls[op]++
	c.tables[table]++
	down := c.down
	faults := append([]Fault(nil), c.faults...)
	c.mu.Unlock()

	if down != nil {
		return store.Error.Wrap(down)
	}
	for _, f := range faults {
		if err := f(op, table, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Get(ctx context.Context, t store.Table, key any) (store.Row, error) {
	return (&tx{c: c, inner: c.Store}).Get(ctx, t, key)
}

func (c *Client) Select(ctx context.Context, t store.Table, where store.Predicate) ([]store.Row, error) {
	return (&tx{c: c, inner: c.Store}).Select(ctx, t, where)
}

func (c *Client) Count(ctx context.Context, t store.Table, where store.Predicate) (int64, error) {
	return (&tx{c: c, inner: c.Store}).Count(ctx, t, where)
}

func (c *Client) Insert(ctx context.Context, t store.Table, row store.Row) (any, error) {
	return (&tx{c: c, inner: c.Store}).Insert(ctx, t, row)
}

func (c *Client) Update(ctx context.Context, t store.Table, key any, set store.Row) error {
	return (&tx{c: c, inner: c.Store}).Update(ctx, t, key, set)
}

func (c *Client) Delete(ctx context.Context, t store.Table, key any) error {
	return (&tx{c: c, inner: c.Store}).Delete(ctx, t, key)
}

// WithTx считает и отказывает и внутри транзакции.
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context, t store.Tx) error) error {
	return c.Store.WithTx(ctx, func(ctx context.Context, inner store.Tx) error {
		return fn(ctx, &tx{c: c, inner: inner})
	})
}

type tx struct {
	c     *Client
	inner store.Tx
}

func (t *tx) Get(ctx context.Context, tbl store.Table, key any) (store.Row, error) {
	if err := t.c.hit(OpGet, tbl.Name, key); err != nil {
		return nil, err
	}
	return t.inner.Get(ctx, tbl, key)
}

func (t *tx) Select(ctx context.Context, tbl store.Table, where store.Predicate) ([]store.Row, error) {
	if err := t.c.hit(OpSelect, tbl.Name, nil); err != nil {
		return nil, err
	}
	return t.inner.Select(ctx, tbl, where)
}

func (t *tx) Count(ctx context.Context, tbl store.Table, where store.Predicate) (int64, error) {
	if err := t.c.hit(OpCount, tbl.Name, nil); err != nil {
		return 0, err
	}
	return t.inner.Count(ctx, tbl, where)
}

func (t *tx) Insert(ctx context.Context, tbl store.Table, row store.Row) (any, error) {
	if err := t.c.hit(OpInsert, tbl.Name, row[tbl.Key]); err != nil {
		return nil, err
	}
	return t.inner.Insert(ctx, tbl, row)
}

func (t *tx) Update(ctx context.Context, tbl store.Table, key any, set store.Row) error {
	if err := t.c.hit(OpUpdate, tbl.Name, key); err != nil {
		return err
	}
	return t.inner.Update(ctx, tbl, key, set)
}

func (t *tx) Delete(ctx context.Context, tbl store.Table, key any) error {
	if err := t.c.hit(OpDelete, tbl.Name, key); err != nil {
		return err
	}
	return t.inner.Delete(ctx, tbl, key)
}
