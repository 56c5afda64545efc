package entities

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"realmdb/internal/orm"
)

// CharacterBackup - копия удалённого персонажа.
type CharacterBackup = orm.Backup[Character]

// DeleteCharacter удаляет персонажа со всем, что к нему привязано. С backup
// сначала пишется копия; если удаление не прошло, копия убирается.
func DeleteCharacter(ctx context.Context, e *orm.Engine, c *Character, deletedBy string, backup bool) error {
	if !backup {
		return e.Delete(ctx, c)
	}
	b, err := orm.NewBackup(e, c, deletedBy, time.Now())
	if err != nil {
		return err
	}
	if err := e.Insert(ctx, b); err != nil {
		return err
	}
	if err := e.Delete(ctx, c); err != nil {
		return errs.Combine(err, e.Delete(ctx, b))
	}
	e.Release(b)
	return nil
}
