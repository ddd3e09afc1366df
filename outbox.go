package rtmp

import (
	"context"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type outboxNode struct {
	msg  *Message
	next *outboxNode
}

// Outbox is the multi-producer single-consumer queue of messages awaiting
// write. Producers push onto a lock-free list and raise a single availability
// bit; the drain loop test-and-clears the bit, dequeues until empty and parks
// again. Messages enqueued by one producer drain in enqueue order, so packets
// sharing a chunk stream id hit the wire in order.
type Outbox struct {
	head      unsafe.Pointer // *outboxNode, most recent push
	available int32
	signal    chan struct{}
}

func NewOutbox() *Outbox {
	return &Outbox{signal: make(chan struct{}, 1)}
}

// Enqueue adds m to the queue and signals the drain loop. Safe for concurrent use.
func (q *Outbox) Enqueue(m *Message) {
	n := &outboxNode{msg: m}
	for {
		head := atomic.LoadPointer(&q.head)
		n.next = (*outboxNode)(head)
		if atomic.CompareAndSwapPointer(&q.head, head, unsafe.Pointer(n)) {
			break
		}
	}
	atomic.StoreInt32(&q.available, 1)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// dequeueAll detaches the whole list and returns it in enqueue order.
func (q *Outbox) dequeueAll() []*Message {
	head := (*outboxNode)(atomic.SwapPointer(&q.head, nil))
	var msgs []*Message
	for n := head; n != nil; n = n.next {
		msgs = append(msgs, n.msg)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// Drain runs the single-consumer loop: park until signalled, then write every
// queued message through cw. Serialization failures are fatal to their message
// only; a transport failure or context cancellation ends the loop. The loop is
// not restartable after a transport failure, and cancellation mid-packet leaves
// the transport in an undefined state, so callers must close the connection.
func (q *Outbox) Drain(ctx context.Context, cw *ChunkWriter, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.signal:
		}
		if atomic.SwapInt32(&q.available, 0) == 0 {
			continue
		}
		for _, m := range q.dequeueAll() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := cw.WriteMessage(m); err != nil {
				if errors.Cause(err) == ErrDisconnected || errors.Cause(err) == ErrWriterClosed {
					return err
				}
				logger.Error("outbox: dropping unserializable message",
					zap.String("writerID", cw.ID()),
					zap.Uint8("messageType", uint8(m.Type)),
					zap.Error(err))
			}
		}
	}
}
