package bus

import (
	"context"
	"sync"

	types "github.com/yungbote/adforge-backend/internal/domain"
)

// Bus fans row status events out to every API instance.
type Bus interface {
	PublishRowStatus(ctx context.Context, ev types.RowStatusEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev types.RowStatusEvent)) error
	Close() error
}

// memoryBus delivers events in-process; used when no Redis is configured.
type memoryBus struct {
	mu       sync.RWMutex
	handlers []func(types.RowStatusEvent)
}

func NewMemoryBus() Bus { return &memoryBus{} }

func (b *memoryBus) PublishRowStatus(ctx context.Context, ev types.RowStatusEvent) error {
	b.mu.RLock()
	handlers := append([]func(types.RowStatusEvent){}, b.handlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onEvent func(ev types.RowStatusEvent)) error {
	if onEvent == nil {
		return nil
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, onEvent)
	b.mu.Unlock()
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()
	return nil
}
