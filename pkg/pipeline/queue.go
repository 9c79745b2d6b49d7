// Package pipeline decouples telemetry producers from the downstream transmitter.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/roffe/canbridge/pkg/telemetry"
	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("pipeline")

const DefaultCapacity = 10

// Item is one record waiting to be forwarded to Destination
type Item struct {
	Destination uint32
	Record      telemetry.Record
}

func (i Item) String() string {
	return fmt.Sprintf("%s -> 0x%03X", i.Record.Kind(), i.Destination)
}

// Queue is a bounded FIFO with any number of producers and one consumer. Producers are
// suspended while the queue is full, items are never dropped.
type Queue struct {
	items        chan Item
	backpressure atomic.Uint64
	onFull       func()
}

// NewQueue creates a queue holding capacity items. onFull, if set, is called every time
// a producer has to wait for room.
func NewQueue(capacity int, onFull func()) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:  make(chan Item, capacity),
		onFull: onFull,
	}
}

// Push enqueues item, waiting for room until ctx is done
func (q *Queue) Push(ctx context.Context, item Item) error {
	select {
	case q.items <- item:
		return nil
	default:
	}

	n := q.backpressure.Add(1)
	if q.onFull != nil {
		q.onFull()
	}
	log.Debugf("queue full (%d), waiting to forward %s", n, item)

	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("push %s: %w", item.Record.Kind(), ctx.Err())
	}
}

// Pop dequeues the oldest item, waiting until one is available or ctx is done
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) Cap() int {
	return cap(q.items)
}

// Backpressure returns how many pushes found the queue full
func (q *Queue) Backpressure() uint64 {
	return q.backpressure.Load()
}
