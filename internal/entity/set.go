package entity

// Set присваивает значение полю экземпляра под его мьютексом и помечает экземпляр изменённым.
// Обычное применение - сеттеры сущностей:
//
//	func (i *Item) SetCount(n int) { entity.Set(i, &i.Count, n) }
func Set[V any](e Tracked, field *V, value V) {
	b := e.Tracker()
	b.mu.Lock()
	*field = value
	b.dirty = true
	b.gen++
	b.mu.Unlock()
}

// Update выполняет произвольную правку под мьютексом экземпляра и помечает его изменённым.
func Update(e Tracked, fn func()) {
	b := e.Tracker()
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
	b.dirty = true
	b.gen++
}

// Get читает значение поля под мьютексом экземпляра.
func Get[V any](e Tracked, field *V) V {
	b := e.Tracker()
	b.mu.Lock()
	defer b.mu.Unlock()
	return *field
}
