package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/queue"
	"gpt3bot/internal/settings"
)

const (
	defaultCommandPrefix = "!g"
	defaultTextCutoff    = 1900
	defaultCooldown      = time.Second

	// CleanupCommand deletes every conversation thread the bot can see.
	CleanupCommand = "!delete_all_conversation_threads"

	// RedoCustomIDPrefix marks the custom id of retry buttons.
	RedoCustomIDPrefix = "gpt3bot:redo:"
)

var (
	privilegedRoles      = []string{"admin", "Admin", "GPT", "gpt"}
	optInRoles           = []string{"gpt-optin"}
	conversationChannels = []string{"gpt3", "general-bot", "bot"}
	endPhrases           = []string{"end", "end conversation", "end the conversation", "that's all", "that'll be all"}
)

// StateStore persists per-user bot state. Implementations must be safe for
// concurrent use.
type StateStore interface {
	GetConversation(ctx context.Context, userID string) (domain.Conversation, bool, error)
	PutConversation(ctx context.Context, conv domain.Conversation) error
	DeleteConversation(ctx context.Context, userID string) error
	GetRedo(ctx context.Context, userID string) (domain.RedoEntry, bool, error)
	PutRedo(ctx context.Context, entry domain.RedoEntry) error
	TouchCooldown(ctx context.Context, userID string, now time.Time) (time.Time, bool, error)
}

// Completer calls the text-completion service. Rejected input is reported as
// *settings.ValidationError.
type Completer interface {
	Complete(ctx context.Context, prompt string) (domain.Completion, error)
}

// Platform is the outbound side of the chat platform.
type Platform interface {
	Reply(ctx context.Context, to domain.MessageRef, content string) (domain.MessageRef, error)
	ReplyWithRetry(ctx context.Context, to domain.MessageRef, content, customID string) (domain.MessageRef, error)
	Send(ctx context.Context, channelID, content string) (domain.MessageRef, error)
	Edit(ctx context.Context, ref domain.MessageRef, content string) error
	SendEmbed(ctx context.Context, channelID string, e domain.Embed) error
	ReplyEmbed(ctx context.Context, to domain.MessageRef, e domain.Embed) error
	StartThread(ctx context.Context, from domain.MessageRef, name string) (string, error)
	CloseThread(ctx context.Context, threadID, name string) error
	ListThreads(ctx context.Context) ([]domain.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
}

type SettingsStore interface {
	Snapshot() settings.Values
	Set(name, raw string) (settings.Values, error)
}

type UsageReporter interface {
	Total(ctx context.Context) (domain.Usage, error)
}

// MessageQueue accepts debug transcripts for asynchronous delivery.
type MessageQueue interface {
	Put(ctx context.Context, m queue.Message) error
}

// CooldownPolicy decides what happens to a command sent inside the cooldown
// window. The wait-time reply is sent and the timestamp refreshed either way.
type CooldownPolicy string

const (
	CooldownWarn   CooldownPolicy = "warn"
	CooldownReject CooldownPolicy = "reject"
)

// ParseCooldownPolicy maps a configuration value to a policy.
func ParseCooldownPolicy(s string) (CooldownPolicy, error) {
	switch CooldownPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CooldownReject:
		return CooldownReject, nil
	case CooldownWarn:
		return CooldownWarn, nil
	default:
		return "", errors.New("usecase: cooldown policy must be warn or reject")
	}
}

type Options struct {
	Persona        string
	CommandPrefix  string
	TextCutoff     int
	Cooldown       time.Duration
	CooldownPolicy CooldownPolicy
	DebugChannelID string
	Logger         *slog.Logger
	Now            func() time.Time
}

// Bot routes inbound chat messages and retry clicks to the completion
// service and keeps per-user conversation state.
type Bot struct {
	store     StateStore
	completer Completer
	platform  Platform
	settings  SettingsStore
	usage     UsageReporter
	debug     MessageQueue

	persona        string
	prefix         string
	cutoff         int
	cooldown       time.Duration
	cooldownPolicy CooldownPolicy
	debugChannelID string
	logger         *slog.Logger
	now            func() time.Time

	selfID atomic.Value
}

func NewBot(store StateStore, completer Completer, platform Platform, cfg SettingsStore, usage UsageReporter, debug MessageQueue, opts Options) (*Bot, error) {
	if store == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if completer == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if platform == nil {
		return nil, errors.New("usecase: platform must not be nil")
	}
	if cfg == nil {
		return nil, errors.New("usecase: settings must not be nil")
	}
	if usage == nil {
		return nil, errors.New("usecase: usage reporter must not be nil")
	}
	if debug == nil {
		return nil, errors.New("usecase: message queue must not be nil")
	}
	if opts.Persona == "" {
		opts.Persona = DefaultPersona
	}
	opts.CommandPrefix = strings.TrimSpace(opts.CommandPrefix)
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = defaultCommandPrefix
	}
	if opts.TextCutoff <= 0 {
		opts.TextCutoff = defaultTextCutoff
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	} else if opts.Cooldown == 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.CooldownPolicy == "" {
		opts.CooldownPolicy = CooldownReject
	}
	if opts.CooldownPolicy != CooldownWarn && opts.CooldownPolicy != CooldownReject {
		return nil, errors.New("usecase: cooldown policy must be warn or reject")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Bot{
		store:          store,
		completer:      completer,
		platform:       platform,
		settings:       cfg,
		usage:          usage,
		debug:          debug,
		persona:        opts.Persona,
		prefix:         opts.CommandPrefix,
		cutoff:         opts.TextCutoff,
		cooldown:       opts.Cooldown,
		cooldownPolicy: opts.CooldownPolicy,
		debugChannelID: strings.TrimSpace(opts.DebugChannelID),
		logger:         opts.Logger,
		now:            opts.Now,
	}
	b.selfID.Store("")
	return b, nil
}

// SetSelfID records the bot's own user id once the gateway session is ready.
func (b *Bot) SetSelfID(id string) {
	b.selfID.Store(id)
}

func (b *Bot) self() string {
	id, _ := b.selfID.Load().(string)
	return id
}

func hasAnyRole(roles, want []string) bool {
	for _, r := range roles {
		for _, w := range want {
			if r == w {
				return true
			}
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func refOf(msg domain.InboundMessage) domain.MessageRef {
	return domain.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}
}

var newUUID = func() string {
	return uuid.NewString()
}
