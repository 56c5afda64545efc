package sweep

import (
	"context"
	"time"
)

// Cycle - управляемое повторяющееся событие.
type Cycle struct {
	interval time.Duration

	control chan any
	quit    chan struct{}
}

type cycleTrigger struct {
	done chan struct{}
}

// NewCycle создаёт цикл с интервалом interval.
func NewCycle(interval time.Duration) *Cycle {
	return &Cycle{
		interval: interval,
		control:  make(chan any),
		quit:     make(chan struct{}),
	}
}

// Run вызывает fn сразу и затем каждые interval, пока не отменён ctx
// или не вызван Stop. Ошибка fn останавливает цикл.
func (c *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	defer close(c.quit)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if err := fn(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}

		case message := <-c.control:
			switch message := message.(type) {
			case nil:
				return nil
			case cycleTrigger:
				if err := fn(ctx); err != nil {
					return err
				}
				close(message.done)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Cycle) send(message any) {
	select {
	case c.control <- message:
	case <-c.quit:
	}
}

// Stop останавливает цикл насовсем.
func (c *Cycle) Stop() { c.send(nil) }

// TriggerWait запускает внеочередной проход и ждёт его конца.
func (c *Cycle) TriggerWait() {
	done := make(chan struct{})
	c.send(cycleTrigger{done})
	select {
	case <-done:
	case <-c.quit:
	}
}
