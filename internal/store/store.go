// Package store описывает хранилище строк, поверх которого работает движок.
// Хранилище ничего не проверяет сверх сырой записи: nullability, уникальность
// и каскады - забота движка.
package store

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var mon = monkit.Package()

var (
	// Error - общий класс отказов хранилища.
	Error = errs.Class("store")
	// ErrNotFound - строки с таким ключом нет.
	ErrNotFound = errs.Class("row not found")
	// ErrDuplicate - строка с таким ключом (или уникальным индексом на стороне БД) уже есть.
	ErrDuplicate = errs.Class("duplicate row")
)

// Row - колонка -> значение. Значения нормализованы:
// int64, float64, string, bool, time.Time (UTC), []byte или nil.
type Row map[string]any

// Clone копирует строку (значения не глубокие, кроме []byte).
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		out[k] = v
	}
	return out
}

// Table - то, что хранилищу нужно знать о таблице.
type Table struct {
	Name          string
	Key           string   // ключевая колонка
	AutoIncrement bool     // ключ выдаёт хранилище при вставке
	Columns       []string // все колонки, ключ включительно
}

// Reader - чтение строк.
type Reader interface {
	// Get возвращает строку по ключу или ErrNotFound.
	Get(ctx context.Context, t Table, key any) (Row, error)
	// Select возвращает строки, подходящие под предикат, в порядке возрастания ключа.
	Select(ctx context.Context, t Table, where Predicate) ([]Row, error)
	// Count считает строки под предикатом.
	Count(ctx context.Context, t Table, where Predicate) (int64, error)
}

// Writer - запись строк.
type Writer interface {
	// Insert пишет новую строку и возвращает её ключ (для автоинкремента - выданный).
	Insert(ctx context.Context, t Table, row Row) (key any, err error)
	// Update переписывает перечисленные колонки строки key. Ключевая колонка в set меняет ключ.
	Update(ctx context.Context, t Table, key any, set Row) error
	// Delete удаляет строку; ErrNotFound, если её нет.
	Delete(ctx context.Context, t Table, key any) error
}

// Tx - чтение и запись внутри единицы "всё или ничего".
type Tx interface {
	Reader
	Writer
}

// Store - хранилище целиком.
type Store interface {
	Tx
	// WithTx выполняет fn атомарно: ошибка fn откатывает все её записи.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
