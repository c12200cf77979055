package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const defaultPollInterval = time.Second

// Deletion removes Handle once At has passed.
type Deletion struct {
	Handle func(ctx context.Context) error
	At     time.Time
}

type DeletionQueueOptions struct {
	Capacity     int
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// DeletionQueue holds deferred deletions until they fall due.
type DeletionQueue struct {
	ch     chan Deletion
	poll   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func NewDeletionQueue(opts DeletionQueueOptions) *DeletionQueue {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &DeletionQueue{
		ch:     make(chan Deletion, opts.Capacity),
		poll:   opts.PollInterval,
		now:    opts.Now,
		logger: opts.Logger,
	}
}

// Put schedules d.
func (q *DeletionQueue) Put(ctx context.Context, d Deletion) error {
	if d.Handle == nil {
		return errors.New("queue: deletion handle must not be nil")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- d:
		return nil
	}
}

// Run fires due deletions until ctx is cancelled. Pending deletions are
// dropped on shutdown.
func (q *DeletionQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	var pending []Deletion
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-q.ch:
			pending = append(pending, d)
			pending = q.fire(ctx, pending)
		case <-ticker.C:
			pending = q.fire(ctx, pending)
		}
	}
}

func (q *DeletionQueue) fire(ctx context.Context, pending []Deletion) []Deletion {
	now := q.now()
	kept := pending[:0]
	for _, d := range pending {
		if d.At.After(now) {
			kept = append(kept, d)
			continue
		}
		if err := d.Handle(ctx); err != nil {
			q.logger.Warn("scheduled_deletion_failed", "error", err.Error())
		}
	}
	return kept
}
