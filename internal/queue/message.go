package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultCapacity  = 256
	defaultSendDelay = 250 * time.Millisecond
)

// Sender delivers text to a channel.
type Sender interface {
	Send(ctx context.Context, channelID, content string) error
}

// Message is a queued (content, destination) pair.
type Message struct {
	Content   string
	ChannelID string
}

type MessageQueueOptions struct {
	Capacity int
	// SendDelay is the pause after each send. Zero selects the default,
	// negative disables it.
	SendDelay time.Duration
	Logger    *slog.Logger
}

// MessageQueue drains outbound messages in FIFO order on its own goroutine.
type MessageQueue struct {
	ch     chan Message
	sender Sender
	delay  time.Duration
	logger *slog.Logger
}

func NewMessageQueue(sender Sender, opts MessageQueueOptions) (*MessageQueue, error) {
	if sender == nil {
		return nil, errors.New("queue: sender must not be nil")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.SendDelay < 0 {
		opts.SendDelay = 0
	} else if opts.SendDelay == 0 {
		opts.SendDelay = defaultSendDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MessageQueue{
		ch:     make(chan Message, opts.Capacity),
		sender: sender,
		delay:  opts.SendDelay,
		logger: opts.Logger,
	}, nil
}

// Put enqueues m, blocking while the queue is full.
func (q *MessageQueue) Put(ctx context.Context, m Message) error {
	if strings.TrimSpace(m.ChannelID) == "" {
		return errors.New("queue: message channel is required")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- m:
		return nil
	}
}

// Run sends queued messages until ctx is cancelled. Delivery failures are
// logged and dropped.
func (q *MessageQueue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-q.ch:
			if err := q.sender.Send(ctx, m.ChannelID, m.Content); err != nil {
				q.logger.Warn("queued_message_send_failed", "channel_id", m.ChannelID, "error", err.Error())
			}
			if q.delay > 0 {
				t := time.NewTimer(q.delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil
				case <-t.C:
				}
			}
		}
	}
}
