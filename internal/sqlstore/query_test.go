package sqlstore

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"realmdb/internal/schema"
	"realmdb/internal/store"
)

type numbered struct{}

func (numbered) Name() string { return "test" }
func (numbered) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (numbered) ColumnType(*schema.Column) string { return "text" }
func (numbered) AutoIncrementKey(*schema.Column) string { return "id serial" }
func (numbered) Encode(v any) any { return v }
func (numbered) IsDuplicate(error) bool { return false }
func (numbered) IgnoreDDL(error) bool { return false }

func TestWhere(t *testing.T) {
	s := New(zaptest.NewLogger(t), nil, numbered{})
	kinds := map[string]schema.Kind{"level": schema.KindInt, "name": schema.KindString}

	for _, tc := range []struct {
		where store.Predicate
		sql   string
		args  []any
	}{
		{nil, "", nil},
		{store.Where(store.Eq("name", "Kay")), ` where "name" = $1`, []any{"Kay"}},
		{store.Where(store.Eq("name", nil)), ` where "name" is null`, nil},
		{store.Where(store.Cond{Column: "name", Op: store.OpNe, Values: []any{"Kay"}}),
			` where ("name" <> $1 or "name" is null)`, []any{"Kay"}},
		{store.Where(store.In("level")), ` where 1 = 0`, nil},
		{store.Where(store.In("level", "1", 2, nil)),
			` where ("level" in ($1, $2) or "level" is null)`, []any{int64(1), int64(2)}},
		{store.Where(store.Cond{Column: "level", Op: store.OpGt, Values: []any{"10"}}, store.Eq("name", 5)),
			` where "level" > $1 and "name" = $2`, []any{int64(10), "5"}},
	} {
		b := s.conn(nil).builder()
		assert.Equal(t, tc.sql, b.where(tc.where, kinds))
		assert.Equal(t, tc.args, b.args)
	}
}

func TestDecode(t *testing.T) {
	at := time.Date(2024, 2, 29, 23, 59, 58, 5, time.UTC)
	assert.Equal(t, true, decode(schema.KindBool, int64(1)))
	assert.Equal(t, false, decode(schema.KindBool, int64(0)))
	got, ok := decode(schema.KindTime, at.Format(TimeLayout)).(time.Time)
	assert.True(t, ok && at.Equal(got))
	assert.Equal(t, "abc", decode(schema.KindString, []byte("abc")))
	assert.Equal(t, []byte("abc"), decode(schema.KindBytes, []byte("abc")))
	assert.Equal(t, int64(7), decode(schema.KindInt, int32(7)))
	assert.Equal(t, 2.0, decode(schema.KindFloat, int64(2)))
	assert.Nil(t, decode(schema.KindInt, nil))
	// вид неизвестен: значение только нормализуется
	assert.Equal(t, int64(3), decode(0, 3))
}

func TestIdent(t *testing.T) {
	assert.Equal(t, `"user"`, Ident("User"))
	assert.Equal(t, `"a""b"`, Ident(`a"b`))
	assert.True(t, IsReserved("ORDER"))
	assert.False(t, IsReserved("player"))
}
