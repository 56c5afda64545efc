package store

import (
	"context"
	"sort"
	"sync"
)

// Memory - хранилище строк в памяти: таблица -> ключ -> строка под одним RWMutex.
// Служит и backend'ом "memory", и тестовым двойником.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable
	closed bool

	txMu sync.Mutex // транзакции идут по одной
}

type memTable struct {
	rows map[string]Row
	seq  int64 // последний выданный автоинкремент
}

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) table(name string) *memTable {
	tbl := m.tables[name]
	if tbl == nil {
		tbl = &memTable{rows: make(map[string]Row)}
		m.tables[name] = tbl
	}
	return tbl
}

func (m *Memory) Get(ctx context.Context, t Table, key any) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, Error.New("memory store is closed")
	}
	tbl := m.tables[t.Name]
	if tbl == nil {
		return nil, ErrNotFound.New("%s[%v]", t.Name, key)
	}
	row := tbl.rows[KeyString(key)]
	if row == nil {
		return nil, ErrNotFound.New("%s[%v]", t.Name, key)
	}
	return row.Clone(), nil
}

func (m *Memory) Select(ctx context.Context, t Table, where Predicate) ([]Row, error) {
	if err := where.Validate(t); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, Error.New("memory store is closed")
	}
	tbl := m.tables[t.Name]
	if tbl == nil {
		return nil, nil
	}
	var out []Row
	for _, row := range tbl.rows {
		if where.Match(row) {
			out = append(out, row.Clone())
		}
	}
	SortByKey(out, t.Key)
	return out, nil
}

func (m *Memory) Count(ctx context.Context, t Table, where Predicate) (int64, error) {
	if err := where.Validate(t); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, Error.New("memory store is closed")
	}
	tbl := m.tables[t.Name]
	if tbl == nil {
		return 0, nil
	}
	var n int64
	for _, row := range tbl.rows {
		if where.Match(row) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Insert(ctx context.Context, t Table, row Row) (any, error) {
	row = NormalizeRow(row)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, Error.New("memory store is closed")
	}
	tbl := m.table(t.Name)

	key := row[t.Key]
	if t.AutoIncrement {
		if IsZeroKey(key) {
			tbl.seq++
			key = tbl.seq
			row[t.Key] = key
		} else if n, ok := key.(int64); ok && n > tbl.seq {
			tbl.seq = n
		}
	}
	if key == nil {
		return nil, Error.New("%s: key column %q is empty", t.Name, t.Key)
	}
	ks := KeyString(key)
	if _, exists := tbl.rows[ks]; exists {
		return nil, ErrDuplicate.New("%s[%v]", t.Name, key)
	}
	tbl.rows[ks] = row
	return key, nil
}

func (m *Memory) Update(ctx context.Context, t Table, key any, set Row) error {
	set = NormalizeRow(set)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Error.New("memory store is closed")
	}
	tbl := m.tables[t.Name]
	ks := KeyString(key)
	if tbl == nil || tbl.rows[ks] == nil {
		return ErrNotFound.New("%s[%v]", t.Name, key)
	}
	next := tbl.rows[ks].Clone()
	for k, v := range set {
		next[k] = v
	}
	nks := KeyString(next[t.Key])
	if nks != ks {
		if _, exists := tbl.rows[nks]; exists {
			return ErrDuplicate.New("%s[%v]", t.Name, next[t.Key])
		}
		delete(tbl.rows, ks)
	}
	tbl.rows[nks] = next
	return nil
}

func (m *Memory) Delete(ctx context.Context, t Table, key any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Error.New("memory store is closed")
	}
	tbl := m.tables[t.Name]
	ks := KeyString(key)
	if tbl == nil || tbl.rows[ks] == nil {
		return ErrNotFound.New("%s[%v]", t.Name, key)
	}
	delete(tbl.rows, ks)
	return nil
}

// WithTx выполняет fn через журнал отката; транзакции сериализуются между собой.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return RunJournaled(ctx, m, fn)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SortByKey упорядочивает строки по возрастанию ключевой колонки.
func SortByKey(rows []Row, key string) {
	sort.SliceStable(rows, func(i, j int) bool {
		return Compare(rows[i][key], rows[j][key]) < 0
	})
}
