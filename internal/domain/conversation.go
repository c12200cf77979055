package domain

import "time"

// Conversation is the per-user multi-turn state. A user has at most one.
type Conversation struct {
	UserID   string
	History  string
	Turns    int
	ThreadID string
}

// RedoEntry records the last non-conversational completion for a user so the
// retry button can re-submit the prompt into the same reply slot.
type RedoEntry struct {
	UserID     string
	Prompt     string
	ChannelID  string
	MessageID  string
	ResponseID string
	UpdatedAt  time.Time
}

// Usage is the cumulative token consumption and its price in USD.
type Usage struct {
	Tokens int64
	Cost   float64
}
