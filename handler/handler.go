// Package handler turns Discord gateway events into jobs on the per-user
// queue.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/queue"
	"gpt3bot/internal/usecase"
)

const (
	redoAckText = "Redoing your original request..."
	redoAckTTL  = 10 * time.Second
)

type JobQueue interface {
	Enqueue(ctx context.Context, key string, job usecase.Job) error
}

// Resolver maps platform ids to the names the router matches on.
type Resolver interface {
	RoleNames(guildID string, roleIDs []string) []string
	ChannelName(channelID string) string
}

type Interactions interface {
	RespondEphemeral(ctx context.Context, i *discordgo.Interaction, content string) error
	DeleteResponse(ctx context.Context, i *discordgo.Interaction) error
}

type DeletionScheduler interface {
	Put(ctx context.Context, d queue.Deletion) error
}

type SelfIDSetter interface {
	SetSelfID(id string)
}

type Handler struct {
	ctx          context.Context
	jobs         JobQueue
	resolver     Resolver
	interactions Interactions
	deletions    DeletionScheduler
	self         SelfIDSetter
	logger       *slog.Logger
	now          func() time.Time
}

type Dependencies struct {
	Jobs         JobQueue
	Resolver     Resolver
	Interactions Interactions
	Deletions    DeletionScheduler
	Self         SelfIDSetter
	Logger       *slog.Logger
	Now          func() time.Time
}

var newCorrelationID = func() string { return uuid.NewString() }

// NewHandler returns a handler whose event callbacks run under ctx.
func NewHandler(ctx context.Context, deps Dependencies) (*Handler, error) {
	if ctx == nil {
		return nil, errors.New("handler: context must not be nil")
	}
	if deps.Jobs == nil {
		return nil, errors.New("handler: job queue must not be nil")
	}
	if deps.Resolver == nil {
		return nil, errors.New("handler: resolver must not be nil")
	}
	if deps.Interactions == nil {
		return nil, errors.New("handler: interactions must not be nil")
	}
	if deps.Deletions == nil {
		return nil, errors.New("handler: deletion scheduler must not be nil")
	}
	if deps.Self == nil {
		return nil, errors.New("handler: self id setter must not be nil")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{
		ctx:          ctx,
		jobs:         deps.Jobs,
		resolver:     deps.Resolver,
		interactions: deps.Interactions,
		deletions:    deps.Deletions,
		self:         deps.Self,
		logger:       deps.Logger,
		now:          deps.Now,
	}, nil
}

// Register attaches the event callbacks to s.
func (h *Handler) Register(s *discordgo.Session) {
	s.AddHandler(h.OnReady)
	s.AddHandler(h.OnMessageCreate)
	s.AddHandler(h.OnInteractionCreate)
}

func (h *Handler) OnReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	h.self.SetSelfID(r.User.ID)
	h.logger.Info("gateway_ready", "user", r.User.Username, "user_id", r.User.ID, "guilds", len(r.Guilds))
}

// OnMessageCreate enqueues guild messages. Direct messages are ignored.
func (h *Handler) OnMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.GuildID == "" {
		return
	}

	var roleIDs []string
	if m.Member != nil {
		roleIDs = m.Member.Roles
	}
	msg := domain.InboundMessage{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		ChannelName: h.resolver.ChannelName(m.ChannelID),
		GuildID:     m.GuildID,
		Author: domain.Author{
			ID:    m.Author.ID,
			Name:  m.Author.Username,
			Roles: h.resolver.RoleNames(m.GuildID, roleIDs),
		},
		Content: m.Content,
	}
	h.enqueue(usecase.Job{ID: newCorrelationID(), Kind: usecase.JobMessage, Message: msg})
}

// OnInteractionCreate handles retry button clicks: it acknowledges the
// click, schedules removal of the acknowledgement and queues the redo
// behind the user's pending messages.
func (h *Handler) OnInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	if !strings.HasPrefix(i.MessageComponentData().CustomID, usecase.RedoCustomIDPrefix) {
		return
	}
	user := interactionUser(i.Interaction)
	if user == nil {
		return
	}

	ctx := h.ctx
	if err := h.interactions.RespondEphemeral(ctx, i.Interaction, redoAckText); err != nil {
		h.logger.Warn("redo_ack_failed", "user_id", user.ID, "error", err.Error())
	} else {
		interaction := i.Interaction
		err := h.deletions.Put(ctx, queue.Deletion{
			At: h.now().Add(redoAckTTL),
			Handle: func(ctx context.Context) error {
				return h.interactions.DeleteResponse(ctx, interaction)
			},
		})
		if err != nil {
			h.logger.Warn("redo_ack_schedule_failed", "user_id", user.ID, "error", err.Error())
		}
	}

	h.enqueue(usecase.Job{ID: newCorrelationID(), Kind: usecase.JobRedo, UserID: user.ID})
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func (h *Handler) enqueue(job usecase.Job) {
	if err := h.jobs.Enqueue(h.ctx, job.Key(), job); err != nil {
		h.logger.Error("enqueue_failed", "job_id", job.ID, "user_id", job.Key(), "error", err.Error())
		return
	}
	h.logger.Debug("job_enqueued", "job_id", job.ID, "user_id", job.Key(), "kind", int(job.Kind))
}
