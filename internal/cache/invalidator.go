package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

type InvalidationAction string

const (
	ActionInvalidateOperation InvalidationAction = "invalidate_operation"
	ActionInvalidateAll       InvalidationAction = "invalidate_all"
)

// InvalidationMessage tells other replicas which cached routes to drop.
type InvalidationMessage struct {
	Action      InvalidationAction `json:"action"`
	OperationID string             `json:"operation_id,omitempty"`
	Origin      string             `json:"origin"`
	Timestamp   int64              `json:"timestamp"`
}

// Invalidator broadcasts route cache invalidations across replicas.
type Invalidator interface {
	Publish(ctx context.Context, msg InvalidationMessage) error
	// Subscribe blocks, invoking handle for each message, until ctx is done
	// or Close is called.
	Subscribe(ctx context.Context, handle func(InvalidationMessage)) error
	// Origin identifies this process in published messages.
	Origin() string
	Close() error
}

var ErrSubscriptionRunning = errors.New("subscription_already_running")

// Apply drops the entries msg names from c and returns how many were removed.
func Apply(c RouteFeatureCache, msg InvalidationMessage) int {
	switch msg.Action {
	case ActionInvalidateOperation:
		if msg.OperationID == "" {
			return 0
		}
		return c.InvalidateOperation(msg.OperationID)
	case ActionInvalidateAll:
		c.Purge()
	}
	return 0
}

type noopInvalidator struct {
	origin string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewNoopInvalidator is used when Redis is not configured. A single replica
// already invalidates its own cache synchronously, so nothing is sent.
func NewNoopInvalidator(origin string) Invalidator {
	return &noopInvalidator{origin: origin}
}

func (n *noopInvalidator) Publish(context.Context, InvalidationMessage) error { return nil }

func (n *noopInvalidator) Subscribe(ctx context.Context, _ func(InvalidationMessage)) error {
	n.mu.Lock()
	if n.cancel != nil {
		n.mu.Unlock()
		return ErrSubscriptionRunning
	}
	subCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.mu.Unlock()

	<-subCtx.Done()
	return subCtx.Err()
}

func (n *noopInvalidator) Origin() string { return n.origin }

func (n *noopInvalidator) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		n.cancel()
	}
	return nil
}

func stamp(msg InvalidationMessage, origin string) InvalidationMessage {
	if msg.Origin == "" {
		msg.Origin = origin
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixNano()
	}
	return msg
}
