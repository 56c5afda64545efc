// Package cache держит справочные таблицы целиком в памяти.
// Таблица либо прогрета полностью и обслуживает все чтения по ключу,
// либо не участвует в кэше вовсе.
package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"realmdb/internal/entity"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

var (
	mon = monkit.Package()

	// Error - общий класс ошибок кэша.
	Error = errs.Class("cache")
	// ErrUnbounded - таблицу нельзя прогреть: нет границы или строк больше границы.
	ErrUnbounded = errs.Class("unbounded cache")
)

// Entry - одна строка для прогрева.
type Entry struct {
	Key   any
	Value entity.Tracked
}

// Source - откуда прогревается таблица.
type Source interface {
	Count(ctx context.Context, et *schema.EntityType) (int64, error)
	LoadAll(ctx context.Context, et *schema.EntityType) ([]Entry, error)
}

// Options настраивают кэш.
type Options struct {
	// DefaultLimit - граница числа строк для таблиц без своей границы. 0 - границы нет.
	DefaultLimit int
}

// Stat - состояние одной таблицы.
type Stat struct {
	Table  string `json:"table"`
	Rows   int    `json:"rows"`
	Limit  int    `json:"limit"`
	Warm   bool   `json:"warm"`
	Hits   int64  `json:"hits"`
	Misses int64  `json:"misses"`
}

// Cache - кэши всех включённых таблиц.
type Cache struct {
	log  *zap.Logger
	opts Options

	mu     sync.RWMutex
	tables map[*schema.EntityType]*table
}

type table struct {
	et    *schema.EntityType
	limit int

	warmMu sync.Mutex // один прогрев за раз

	mu      sync.RWMutex
	rows    map[string]entity.Tracked
	warm    bool
	warming bool
	pending []op // записи, пришедшие во время прогрева

	hits, misses atomic.Int64
}

type op struct {
	key   string
	value entity.Tracked // nil - вытеснение
}

// New создаёт пустой кэш.
func New(log *zap.Logger, opts Options) *Cache {
	return &Cache{
		log:    log,
		opts:   opts,
		tables: make(map[*schema.EntityType]*table),
	}
}

// Enable включает кэш для типа. limit <= 0 - граница по умолчанию.
func (c *Cache) Enable(et *schema.EntityType, limit int) {
	if limit <= 0 {
		limit = c.opts.DefaultLimit
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[et]; ok {
		t.warmMu.Lock()
		t.limit = limit
		t.warmMu.Unlock()
		return
	}
	c.tables[et] = &table{et: et, limit: limit}
}

// Enabled - включён ли кэш для типа.
func (c *Cache) Enabled(et *schema.EntityType) bool {
	return c.table(et) != nil
}

// Warm - таблица прогрета и обслуживает чтения.
func (c *Cache) Warm(et *schema.EntityType) bool {
	t := c.table(et)
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.warm
}

func (c *Cache) table(et *schema.EntityType) *table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tables[et]
}

// Get отдаёт экземпляр по ключу. Для невключённых и ещё не прогретых таблиц - всегда промах.
func (c *Cache) Get(et *schema.EntityType, key any) (entity.Tracked, bool) {
	t := c.table(et)
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	warm := t.warm
	v, ok := t.rows[store.KeyString(key)]
	t.mu.RUnlock()

	if !warm {
		return nil, false
	}
	nameTag := monkit.NewSeriesTag("table", et.Table)
	if ok {
		t.hits.Add(1)
		mon.Event("cache_hit", nameTag)
	} else {
		t.misses.Add(1)
		mon.Event("cache_miss", nameTag)
	}
	return v, ok
}

// Values - все экземпляры прогретой таблицы, по возрастанию ключа.
func (c *Cache) Values(et *schema.EntityType) ([]entity.Tracked, bool) {
	t := c.table(et)
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.warm {
		return nil, false
	}
	type kv struct {
		key   any
		value entity.Tracked
	}
	all := make([]kv, 0, len(t.rows))
	for _, v := range t.rows {
		all = append(all, kv{key: et.KeyOf(v), value: v})
	}
	sort.Slice(all, func(i, j int) bool { return store.Compare(all[i].key, all[j].key) < 0 })
	out := make([]entity.Tracked, len(all))
	for i, e := range all {
		out[i] = e.value
	}
	return out, true
}

// Put кладёт или заменяет экземпляр. Для невключённых таблиц ничего не делает.
func (c *Cache) Put(et *schema.EntityType, key any, v entity.Tracked) {
	c.apply(et, op{key: store.KeyString(key), value: v})
}

// Invalidate вытесняет ключ.
func (c *Cache) Invalidate(et *schema.EntityType, key any) {
	c.apply(et, op{key: store.KeyString(key)})
}

func (c *Cache) apply(et *schema.EntityType, o op) {
	t := c.table(et)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.warming {
		t.pending = append(t.pending, o)
	}
	if t.warm {
		o.applyTo(t.rows)
	}
}

func (o op) applyTo(rows map[string]entity.Tracked) {
	if o.value == nil {
		delete(rows, o.key)
		return
	}
	rows[o.key] = o.value
}

// WarmUp загружает таблицу целиком, если она ещё не прогрета.
func (c *Cache) WarmUp(ctx context.Context, et *schema.EntityType, src Source) (err error) {
	defer mon.Task()(&ctx)(&err)
	t := c.table(et)
	if t == nil {
		return Error.New("%s: table is not cacheable", et.Table)
	}
	t.warmMu.Lock()
	defer t.warmMu.Unlock()
	t.mu.RLock()
	warm := t.warm
	t.mu.RUnlock()
	if warm {
		return nil
	}
	return c.load(ctx, t, src)
}

// Reload перечитывает таблицу. Пока идёт загрузка, чтения обслуживает старое содержимое.
func (c *Cache) Reload(ctx context.Context, et *schema.EntityType, src Source) (err error) {
	defer mon.Task()(&ctx)(&err)
	t := c.table(et)
	if t == nil {
		return Error.New("%s: table is not cacheable", et.Table)
	}
	t.warmMu.Lock()
	defer t.warmMu.Unlock()
	return c.load(ctx, t, src)
}

// CheckBound проверяет, что таблицу можно прогреть, не загружая её.
func (c *Cache) CheckBound(ctx context.Context, et *schema.EntityType, src Source) error {
	t := c.table(et)
	if t == nil {
		return Error.New("%s: table is not cacheable", et.Table)
	}
	return c.checkBound(ctx, t, src)
}

func (c *Cache) checkBound(ctx context.Context, t *table, src Source) error {
	if t.limit <= 0 {
		return ErrUnbounded.New("%s: no row bound configured", t.et.Table)
	}
	n, err := src.Count(ctx, t.et)
	if err != nil {
		return err
	}
	if n > int64(t.limit) {
		return ErrUnbounded.New("%s: %d rows exceed bound %d", t.et.Table, n, t.limit)
	}
	return nil
}

func (c *Cache) load(ctx context.Context, t *table, src Source) error {
	if err := c.checkBound(ctx, t, src); err != nil {
		return err
	}

	t.mu.Lock()
	t.warming = true
	t.pending = nil
	t.mu.Unlock()

	entries, err := src.LoadAll(ctx, t.et)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.warming = false
	pending := t.pending
	t.pending = nil
	if err != nil {
		return err
	}

	rows := make(map[string]entity.Tracked, len(entries))
	for _, e := range entries {
		rows[store.KeyString(e.Key)] = e.Value
	}
	for _, o := range pending {
		o.applyTo(rows)
	}
	t.rows = rows
	t.warm = true

	c.log.Info("table cached",
		zap.String("table", t.et.Table),
		zap.Int("rows", len(rows)),
		zap.Int("pending", len(pending)))
	return nil
}

// Stats - состояние всех включённых таблиц.
func (c *Cache) Stats() []Stat {
	c.mu.RLock()
	tables := make([]*table, 0, len(c.tables))
	for _, t := range c.tables {
		tables = append(tables, t)
	}
	c.mu.RUnlock()

	out := make([]Stat, 0, len(tables))
	for _, t := range tables {
		t.mu.RLock()
		out = append(out, Stat{
			Table:  t.et.Table,
			Rows:   len(t.rows),
			Limit:  t.limit,
			Warm:   t.warm,
			Hits:   t.hits.Load(),
			Misses: t.misses.Load(),
		})
		t.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}
