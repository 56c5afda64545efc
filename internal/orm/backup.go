package orm

import (
	"time"

	"realmdb/internal/entity"
	"realmdb/internal/store"
)

// Backup - теневая копия удалённой сущности: те же колонки плюс object id
// оригинала, кто и когда удалил. Таблица - <таблица T>_backup; связи T не копируются и каскад
// оригинала на копию не распространяется.
type Backup[T any] struct {
	entity.Base      `orm:"backup"`
	Entity           T         `orm:",inline"`
	OriginalID       string    `orm:"original_id,varchar=26,index"`
	DeletedOwnerName string    `orm:"deleted_owner_name,varchar=255"`
	DeleteDate       time.Time `orm:"delete_date,notnull"`
}

// NewBackup снимает копию с src. Писать её - обычный Insert, до удаления оригинала.
func NewBackup[T any, PT interface {
	*T
	entity.Tracked
}](e *Engine, src PT, owner string, at time.Time) (*Backup[T], error) {
	srcT, err := e.Type(src)
	if err != nil {
		return nil, err
	}
	b := &Backup[T]{OriginalID: src.Tracker().ObjectID(), DeletedOwnerName: owner, DeleteDate: at.UTC()}
	bT, err := e.Type(b)
	if err != nil {
		return nil, err
	}

	var row store.Row
	src.Tracker().Locked(func() {
		row = srcT.Extract(srcT.Elem(src), "")
	})
	delete(row, "original_id")
	delete(row, "deleted_owner_name")
	delete(row, "delete_date")
	if _, err := bT.Fill(bT.Elem(b), row); err != nil {
		return nil, SchemaError.Wrap(err)
	}
	b.MarkDirty()
	return b, nil
}
