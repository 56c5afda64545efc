package entity

import (
	"sync"

	"github.com/oklog/ulid/v2"
)

// Tracked - то, что движок умеет хранить: любая структура, встроившая Base.
// Тип может переопределить IsDirty (always-dirty, never-persisted),
// объявив собственный метод поверх встроенного.
type Tracked interface {
	Tracker() *Base
	IsDirty() bool
	MarkDirty()
	MarkClean()
}

// Base несёт служебное состояние экземпляра: внутренний идентификатор,
// флаг модификации, флаги сохранённости/удаления и гейты.
// Нулевое значение готово к работе.
type Base struct {
	mu sync.Mutex

	id        string
	dirty     bool
	gen       uint64 // растёт на каждой модификации
	persisted bool
	deleted   bool

	denyAdd    bool
	denyDelete bool
	autoSave   int8 // 0 - наследуем от типа, 1 - вкл, -1 - выкл

	key      any            // ключ строки в хранилище на момент последней записи
	snapshot map[string]any // колонки на момент последней записи/загрузки
}

func (b *Base) Tracker() *Base { return b }

// ObjectID возвращает внутренний идентификатор; выдаётся лениво (ULID).
func (b *Base) ObjectID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.id == "" {
		b.id = ulid.Make().String()
	}
	return b.id
}

func (b *Base) IsDirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

func (b *Base) MarkDirty() {
	b.mu.Lock()
	b.dirty = true
	b.gen++
	b.mu.Unlock()
}

func (b *Base) MarkClean() {
	b.mu.Lock()
	b.dirty = false
	b.mu.Unlock()
}

// DirtyIf - флаг модификации, но только пока guard разрешает запись.
// guard вызывается под мьютексом экземпляра, поэтому может читать поля.
func (b *Base) DirtyIf(guard func() bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty && guard()
}

func (b *Base) IsPersisted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.persisted
}

func (b *Base) IsDeleted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleted
}

func (b *Base) AllowAdd() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.denyAdd
}

func (b *Base) SetAllowAdd(allow bool) {
	b.mu.Lock()
	b.denyAdd = !allow
	b.mu.Unlock()
}

func (b *Base) AllowDelete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.denyDelete
}

func (b *Base) SetAllowDelete(allow bool) {
	b.mu.Lock()
	b.denyDelete = !allow
	b.mu.Unlock()
}

// AutoSave возвращает переопределение гейта автосохранения для экземпляра.
// set=false - переопределения нет, решает конфигурация типа.
func (b *Base) AutoSave() (on, set bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.autoSave > 0, b.autoSave != 0
}

func (b *Base) SetAutoSave(on bool) {
	b.mu.Lock()
	if on {
		b.autoSave = 1
	} else {
		b.autoSave = -1
	}
	b.mu.Unlock()
}

func (b *Base) ResetAutoSave() {
	b.mu.Lock()
	b.autoSave = 0
	b.mu.Unlock()
}

// Locked выполняет fn под мьютексом экземпляра.
// Внутри fn нельзя звать методы Base - мьютекс не реентерабельный.
func (b *Base) Locked(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

// ===== состояние, которое ведёт движок =====

// Key - ключ строки на момент последней успешной записи (nil, если не сохранён).
func (b *Base) Key() any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.key
}

// Snapshot возвращает копию колонок последней записанной версии.
func (b *Base) Snapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil
	}
	out := make(map[string]any, len(b.snapshot))
	for k, v := range b.snapshot {
		out[k] = v
	}
	return out
}

// Capture выполняет fn под мьютексом и возвращает номер модификации,
// которую видел fn. Номер потом передаётся в Commit.
func (b *Base) Capture(fn func()) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
	return b.gen
}

// Commit фиксирует успешную запись/загрузку: строка сохранена, экземпляр чистый.
// Флаг модификации сбрасывается, только если после Capture экземпляр не трогали:
// иначе параллельная правка потерялась бы для следующего цикла сохранения.
func (b *Base) Commit(id string, key any, row map[string]any, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id != "" {
		b.id = id
	}
	b.key = key
	b.snapshot = row
	b.persisted = true
	b.deleted = false
	if b.gen == gen {
		b.dirty = false
	}
}

// Discard помечает экземпляр удалённым из хранилища.
func (b *Base) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persisted = false
	b.deleted = true
	b.key = nil
	b.snapshot = nil
}
