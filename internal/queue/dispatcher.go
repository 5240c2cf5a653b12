package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull = errors.New("fila cheia")
	ErrClosed    = errors.New("fila encerrada")
)

// Delivery é uma entrega de job a um worker. Ack confirma o processamento;
// sem Ack a entrega pode voltar (SQS, após o visibility timeout).
type Delivery struct {
	JobID string
	Ack   func(ctx context.Context) error
}

// Dispatcher leva ids de job do Enqueue até os workers.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
	// Receive bloqueia até a próxima entrega ou até ctx terminar.
	Receive(ctx context.Context) (Delivery, error)
	Close() error
}

// LocalDispatcher é um canal em memória: entrega no máximo uma vez e perde
// o que estiver pendente se o processo cair.
type LocalDispatcher struct {
	ch     chan string
	mu     sync.RWMutex
	closed bool
}

func NewLocalDispatcher(buffer int) *LocalDispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &LocalDispatcher{ch: make(chan string, buffer)}
}

// Dispatch não bloqueia: com o buffer cheio devolve ErrQueueFull.
func (d *LocalDispatcher) Dispatch(_ context.Context, jobID string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.ch <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *LocalDispatcher) Receive(ctx context.Context) (Delivery, error) {
	select {
	case id := <-d.ch:
		return Delivery{JobID: id, Ack: noAck}, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

func (d *LocalDispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Pending devolve quantos ids aguardam um worker.
func (d *LocalDispatcher) Pending() int { return len(d.ch) }

func noAck(context.Context) error { return nil }
