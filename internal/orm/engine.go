// Package orm - фасад хранения: загрузка, поиск, запись, удаление и цикл
// автосохранения поверх скомпилированных типов, кэша и резолвера связей.
package orm

import (
	"context"
	"reflect"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"realmdb/internal/cache"
	"realmdb/internal/entity"
	"realmdb/internal/relation"
	"realmdb/internal/schema"
	"realmdb/internal/store"
)

var mon = monkit.Package()

// TableOptions - настройки одной таблицы, переопределяющие объявление типа.
type TableOptions struct {
	AutoSave   *bool `yaml:"auto_save" json:"auto_save,omitempty"`
	Precache   *bool `yaml:"precache" json:"precache,omitempty"`
	CacheLimit int   `yaml:"cache_limit" json:"cache_limit,omitempty"`
}

// Options настраивают движок.
type Options struct {
	// Registry - реестр типов; nil - schema.Default.
	Registry *schema.Registry
	// CacheLimit - граница строк для кэшируемых таблиц без своей границы.
	CacheLimit int
	// Tables - настройки по имени таблицы.
	Tables map[string]TableOptions
}

// Engine - движок хранения. Безопасен для конкурентного использования.
type Engine struct {
	log   *zap.Logger
	store store.Store
	reg   *schema.Registry
	cache *cache.Cache
	rel   *relation.Resolver
	opts  Options

	mu          sync.Mutex
	configured  map[*schema.EntityType]bool
	configuredN int
	writeMu     map[*schema.EntityType]*sync.Mutex
	tracked     map[entity.Tracked]*schema.EntityType
	live        map[string]entity.Tracked // строка -> её живой экземпляр
}

// New создаёт движок над хранилищем st.
func New(log *zap.Logger, st store.Store, opts Options) *Engine {
	if opts.Registry == nil {
		opts.Registry = schema.Default
	}
	return &Engine{
		log:        log,
		store:      st,
		reg:        opts.Registry,
		cache:      cache.New(log.Named("cache"), cache.Options{DefaultLimit: opts.CacheLimit}),
		rel:        relation.New(log.Named("relation")),
		opts:       opts,
		configured: make(map[*schema.EntityType]bool),
		writeMu:    make(map[*schema.EntityType]*sync.Mutex),
		tracked:    make(map[entity.Tracked]*schema.EntityType),
		live:       make(map[string]entity.Tracked),
	}
}

// Registry - реестр типов движка.
func (e *Engine) Registry() *schema.Registry { return e.reg }

// Store - хранилище движка.
func (e *Engine) Store() store.Store { return e.store }

// Register компилирует типы образцов (и всё, на что они ссылаются).
func (e *Engine) Register(samples ...entity.Tracked) error {
	var group errs.Group
	for _, s := range samples {
		if _, err := e.typeOf(reflect.TypeOf(s)); err != nil {
			group.Add(err)
		}
	}
	return group.Err()
}

// Type - дескриптор типа экземпляра, с компиляцией при первом обращении.
func (e *Engine) Type(x entity.Tracked) (*schema.EntityType, error) {
	if x == nil {
		return nil, SchemaError.New("nil entity")
	}
	return e.typeOf(reflect.TypeOf(x))
}

// TypeByTable ищет зарегистрированный тип по имени таблицы.
func (e *Engine) TypeByTable(name string) (*schema.EntityType, bool) {
	return e.reg.Table(name)
}

func (e *Engine) typeOf(t reflect.Type) (*schema.EntityType, error) {
	et, err := e.reg.Compile(t)
	if err != nil {
		return nil, SchemaError.Wrap(err)
	}
	e.configure()
	return et, nil
}

// configure применяет настройки таблиц ко всем новым типам реестра.
// Реестр только растёт, поэтому неизменный размер значит "нового нет".
func (e *Engine) configure() {
	n := e.reg.Len()
	e.mu.Lock()
	defer e.mu.Unlock()
	if n == e.configuredN {
		return
	}
	e.configuredN = n
	for _, et := range e.reg.All() {
		if e.configured[et] {
			continue
		}
		e.configured[et] = true
		e.writeMu[et] = new(sync.Mutex)

		cacheable := et.Cacheable
		opt := e.opts.Tables[et.Table]
		if opt.Precache != nil {
			cacheable = *opt.Precache
		}
		if cacheable {
			e.cache.Enable(et, opt.CacheLimit)
		}
	}
}

func (e *Engine) writeLock(et *schema.EntityType) *sync.Mutex {
	e.configure()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeMu[et]
}

// Cacheable - включён ли кэш таблицы.
func (e *Engine) Cacheable(et *schema.EntityType) bool { return e.cache.Enabled(et) }

// CacheStats - состояние кэшей.
func (e *Engine) CacheStats() []cache.Stat { return e.cache.Stats() }

// WarmUp прогревает все кэшируемые таблицы. Таблица без границы или сверх
// границы - ошибка конфигурации, процесс не должен стартовать.
func (e *Engine) WarmUp(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	e.configure()
	var group errs.Group
	for _, et := range e.reg.All() {
		if !e.cache.Enabled(et) {
			continue
		}
		if err := e.cache.WarmUp(ctx, et, e.session(e.store)); err != nil {
			group.Add(e.cacheErr(err))
		}
	}
	return group.Err()
}

// ReloadCache перечитывает кэш таблицы целиком.
func (e *Engine) ReloadCache(ctx context.Context, et *schema.EntityType) (err error) {
	defer mon.Task()(&ctx)(&err)
	return e.cacheErr(e.cache.Reload(ctx, et, e.session(e.store)))
}

// UpdateInCache перечитывает одну строку в кэш. Живой экземпляр из кэша
// обновляется на месте; исчезнувшая строка вытесняется.
func (e *Engine) UpdateInCache(ctx context.Context, et *schema.EntityType, key any) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !e.cache.Warm(et) {
		return nil
	}
	row, err := e.store.Get(ctx, et.StoreTable(), key)
	if store.ErrNotFound.Has(err) {
		e.cache.Invalidate(et, key)
		return nil
	}
	if err != nil {
		return storageErr(err)
	}
	if x, ok := e.cache.Get(et, key); ok {
		return e.refill(et, x, row)
	}
	x, err := e.session(e.store).fresh(et, []store.Row{row})
	if err != nil {
		return err
	}
	e.cache.Put(et, key, x[0])
	return nil
}

func (e *Engine) refill(et *schema.EntityType, x entity.Tracked, row store.Row) error {
	var id string
	var ferr error
	gen := x.Tracker().Capture(func() {
		id, ferr = et.Fill(et.Elem(x), row)
	})
	if ferr != nil {
		return SchemaError.Wrap(ferr)
	}
	x.Tracker().Commit(id, row[et.Key().Name], row, gen)
	return nil
}

func (e *Engine) cacheErr(err error) error {
	switch {
	case err == nil:
		return nil
	case cache.ErrUnbounded.Has(err), cache.Error.Has(err):
		return SchemaError.Wrap(err)
	}
	return storageErr(err)
}

// ===== набор живых экземпляров =====

// Track ставит экземпляр под цикл автосохранения. Insert и загрузки делают это сами.
func (e *Engine) Track(x entity.Tracked) error {
	et, err := e.Type(x)
	if err != nil {
		return err
	}
	e.track(et, x)
	return nil
}

// track ставит x под автосохранение. Сохранённый экземпляр занимает место
// своей строки в карте live: прежний владелец той же строки выходит из набора.
func (e *Engine) track(et *schema.EntityType, x entity.Tracked) {
	key := x.Tracker().Key()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracked[x] = et
	if key == nil {
		return
	}
	id := identity(et, key)
	if old, ok := e.live[id]; ok && old != x {
		delete(e.tracked, old)
	}
	e.live[id] = x
}

// adopt регистрирует свежепрочитанный x, если у строки ещё нет живого
// экземпляра, и возвращает того, кто в итоге представляет строку.
func (e *Engine) adopt(et *schema.EntityType, key any, x entity.Tracked) entity.Tracked {
	id := identity(et, key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.live[id]; ok {
		return cur
	}
	e.live[id] = x
	e.tracked[x] = et
	return x
}

func (e *Engine) lookup(et *schema.EntityType, key any) (entity.Tracked, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x, ok := e.live[identity(et, key)]
	return x, ok
}

// rekey переносит живой экземпляр под новый ключ после его смены.
func (e *Engine) rekey(et *schema.EntityType, x entity.Tracked, oldKey, newKey any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tracked[x]; !ok {
		return
	}
	if oldID := identity(et, oldKey); e.live[oldID] == x {
		delete(e.live, oldID)
	}
	e.live[identity(et, newKey)] = x
}

// Release убирает экземпляр из цикла автосохранения (выход игрока).
// Несохранённые правки не пишутся. Следующее чтение строки создаст новый экземпляр.
func (e *Engine) Release(x entity.Tracked) {
	key := x.Tracker().Key()
	e.mu.Lock()
	defer e.mu.Unlock()
	et, ok := e.tracked[x]
	if !ok {
		return
	}
	delete(e.tracked, x)
	if key == nil {
		return
	}
	if id := identity(et, key); e.live[id] == x {
		delete(e.live, id)
	}
}

// Tracked - сколько экземпляров под циклом автосохранения.
func (e *Engine) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracked)
}

type trackedEntry struct {
	x  entity.Tracked
	et *schema.EntityType
}

func (e *Engine) snapshot() []trackedEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]trackedEntry, 0, len(e.tracked))
	for x, et := range e.tracked {
		out = append(out, trackedEntry{x: x, et: et})
	}
	return out
}

// forget убирает из набора удалённые строки и помечает их экземпляры удалёнными.
func (e *Engine) forget(gone map[*schema.EntityType]map[string]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for et, keys := range gone {
		for k := range keys {
			id := rowID(et, k)
			x, ok := e.live[id]
			if !ok {
				continue
			}
			x.Tracker().Discard()
			delete(e.tracked, x)
			delete(e.live, id)
		}
	}
}

// autoSaveOpen - открыт ли гейт автосохранения экземпляра:
// переопределение экземпляра, затем настройка таблицы, затем объявление типа.
func (e *Engine) autoSaveOpen(et *schema.EntityType, x entity.Tracked) bool {
	if on, set := x.Tracker().AutoSave(); set {
		return on
	}
	if opt, ok := e.opts.Tables[et.Table]; ok && opt.AutoSave != nil {
		return *opt.AutoSave
	}
	return et.AutoSave
}

// Close закрывает хранилище.
func (e *Engine) Close() error {
	return e.store.Close()
}
