// Package sweep периодически сбрасывает изменённые экземпляры в хранилище.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// Error - класс ошибок сборщика.
	Error = errs.Class("sweep")
	mon   = monkit.Package()
)

// Config - настройки цикла автосохранения.
type Config struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// Saver - то, что умеет сохранить все отслеживаемые экземпляры.
type Saver interface {
	SaveAll(ctx context.Context, autoSaveOnly bool) (int, error)
}

// Chore - цикл автосохранения. Ошибки прохода журналируются и не
// останавливают цикл: несохранённое останется грязным до следующего прохода.
type Chore struct {
	log   *zap.Logger
	saver Saver
	Loop  *Cycle
}

// NewChore создаёт цикл; интервал по умолчанию - минута.
func NewChore(log *zap.Logger, saver Saver, config Config) *Chore {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	return &Chore{log: log, saver: saver, Loop: NewCycle(config.Interval)}
}

// Run крутит цикл до отмены ctx.
func (chore *Chore) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	err = chore.Loop.Run(ctx, func(ctx context.Context) (err error) {
		defer mon.Task()(&ctx)(&err)
		saved, err := chore.saver.SaveAll(ctx, true)
		mon.IntVal("saved_per_cycle").Observe(int64(saved))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			chore.log.Error("autosave cycle failed", zap.Int("saved", saved), zap.Error(err))
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Flush сохраняет всё, включая типы без автосохранения. Зовётся при остановке.
func (chore *Chore) Flush(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	saved, err := chore.saver.SaveAll(ctx, false)
	chore.log.Info("final save", zap.Int("saved", saved))
	return Error.Wrap(err)
}
