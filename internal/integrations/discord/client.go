package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/queue"
)

const (
	threadArchiveMinutes = 60
	retryEmoji           = "🔄"
)

// sessionAPI is the subset of *discordgo.Session the bot calls.
type sessionAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildThreadsActive(guildID string, options ...discordgo.RequestOption) (*discordgo.ThreadsList, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseDelete(interaction *discordgo.Interaction, options ...discordgo.RequestOption) error
}

// Client delivers bot output through a discordgo session and resolves role
// and channel names from its state cache.
type Client struct {
	api    sessionAPI
	state  *discordgo.State
	logger *slog.Logger
}

// New wraps an opened or not yet opened session.
func New(s *discordgo.Session, logger *slog.Logger) (*Client, error) {
	if s == nil {
		return nil, errors.New("discord: session must not be nil")
	}
	return newClient(s, s.State, logger)
}

func newClient(api sessionAPI, state *discordgo.State, logger *slog.Logger) (*Client, error) {
	if api == nil {
		return nil, errors.New("discord: api must not be nil")
	}
	if state == nil {
		state = discordgo.NewState()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, state: state, logger: logger}, nil
}

func ref(m *discordgo.Message) domain.MessageRef {
	if m == nil {
		return domain.MessageRef{}
	}
	return domain.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}
}

func reference(to domain.MessageRef) *discordgo.MessageReference {
	return &discordgo.MessageReference{MessageID: to.MessageID, ChannelID: to.ChannelID}
}

func (c *Client) send(ctx context.Context, channelID string, data *discordgo.MessageSend) (domain.MessageRef, error) {
	m, err := c.api.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return domain.MessageRef{}, fmt.Errorf("discord: send to %s: %w", channelID, err)
	}
	return ref(m), nil
}

func (c *Client) Reply(ctx context.Context, to domain.MessageRef, content string) (domain.MessageRef, error) {
	return c.send(ctx, to.ChannelID, &discordgo.MessageSend{
		Content:   content,
		Reference: reference(to),
	})
}

// ReplyWithRetry replies with a single retry button whose custom id is
// customID.
func (c *Client) ReplyWithRetry(ctx context.Context, to domain.MessageRef, content, customID string) (domain.MessageRef, error) {
	return c.send(ctx, to.ChannelID, &discordgo.MessageSend{
		Content:    content,
		Reference:  reference(to),
		Components: []discordgo.MessageComponent{retryRow(customID)},
	})
}

func retryRow(customID string) discordgo.ActionsRow {
	return discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Style:    discordgo.PrimaryButton,
				Emoji:    &discordgo.ComponentEmoji{Name: retryEmoji},
				CustomID: customID,
			},
		},
	}
}

func (c *Client) Send(ctx context.Context, channelID, content string) (domain.MessageRef, error) {
	return c.send(ctx, channelID, &discordgo.MessageSend{Content: content})
}

func (c *Client) Edit(ctx context.Context, r domain.MessageRef, content string) error {
	if _, err := c.api.ChannelMessageEdit(r.ChannelID, r.MessageID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: edit %s: %w", r.MessageID, err)
	}
	return nil
}

func toEmbed(e domain.Embed) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(e.Fields))
	for _, f := range e.Fields {
		fields = append(fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value})
	}
	return &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
		Fields:      fields,
	}
}

func (c *Client) SendEmbed(ctx context.Context, channelID string, e domain.Embed) error {
	_, err := c.send(ctx, channelID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{toEmbed(e)}})
	return err
}

func (c *Client) ReplyEmbed(ctx context.Context, to domain.MessageRef, e domain.Embed) error {
	_, err := c.send(ctx, to.ChannelID, &discordgo.MessageSend{
		Embeds:    []*discordgo.MessageEmbed{toEmbed(e)},
		Reference: reference(to),
	})
	return err
}

// StartThread opens a public thread on the message from.
func (c *Client) StartThread(ctx context.Context, from domain.MessageRef, name string) (string, error) {
	ch, err := c.api.MessageThreadStartComplex(from.ChannelID, from.MessageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: threadArchiveMinutes,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: start thread: %w", err)
	}
	if ch == nil || ch.ID == "" {
		return "", errors.New("discord: start thread: empty channel")
	}
	return ch.ID, nil
}

// CloseThread locks the thread and renames it.
func (c *Client) CloseThread(ctx context.Context, threadID, name string) error {
	locked := true
	if _, err := c.api.ChannelEdit(threadID, &discordgo.ChannelEdit{Name: name, Locked: &locked}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: close thread %s: %w", threadID, err)
	}
	return nil
}

// ListThreads returns the active threads of every guild in the state cache.
func (c *Client) ListThreads(ctx context.Context) ([]domain.Thread, error) {
	var out []domain.Thread
	for _, guildID := range c.guildIDs() {
		list, err := c.api.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: list threads of %s: %w", guildID, err)
		}
		if list == nil {
			continue
		}
		for _, t := range list.Threads {
			if t == nil {
				continue
			}
			out = append(out, domain.Thread{ID: t.ID, GuildID: guildID, Name: t.Name})
		}
	}
	return out, nil
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := c.api.ChannelDelete(threadID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete thread %s: %w", threadID, err)
	}
	return nil
}

func (c *Client) guildIDs() []string {
	c.state.RLock()
	defer c.state.RUnlock()
	ids := make([]string, 0, len(c.state.Guilds))
	for _, g := range c.state.Guilds {
		ids = append(ids, g.ID)
	}
	return ids
}

// RespondEphemeral answers an interaction with a message only its user sees.
func (c *Client) RespondEphemeral(ctx context.Context, i *discordgo.Interaction, content string) error {
	err := c.api.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: respond to interaction: %w", err)
	}
	return nil
}

func (c *Client) DeleteResponse(ctx context.Context, i *discordgo.Interaction) error {
	if err := c.api.InteractionResponseDelete(i, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete interaction response: %w", err)
	}
	return nil
}

// RoleNames maps role ids to names, from the state cache when possible.
// Unknown ids are skipped.
func (c *Client) RoleNames(guildID string, roleIDs []string) []string {
	if len(roleIDs) == 0 {
		return nil
	}
	names := make([]string, 0, len(roleIDs))
	var missing []string
	for _, id := range roleIDs {
		r, err := c.state.Role(guildID, id)
		if err != nil || r == nil {
			missing = append(missing, id)
			continue
		}
		names = append(names, r.Name)
	}
	if len(missing) == 0 {
		return names
	}

	roles, err := c.api.GuildRoles(guildID)
	if err != nil {
		c.logger.Warn("guild_roles_lookup_failed", "guild_id", guildID, "error", err.Error())
		return names
	}
	byID := make(map[string]string, len(roles))
	for _, r := range roles {
		byID[r.ID] = r.Name
	}
	for _, id := range missing {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

// ChannelName returns the channel's name, or "" when it cannot be resolved.
func (c *Client) ChannelName(channelID string) string {
	if ch, err := c.state.Channel(channelID); err == nil && ch != nil {
		return ch.Name
	}
	ch, err := c.api.Channel(channelID)
	if err != nil || ch == nil {
		if err != nil {
			c.logger.Warn("channel_lookup_failed", "channel_id", channelID, "error", err.Error())
		}
		return ""
	}
	return ch.Name
}

// Sender adapts the client to the message queue.
func (c *Client) Sender() queue.Sender {
	return textSender{c: c}
}

type textSender struct {
	c *Client
}

func (s textSender) Send(ctx context.Context, channelID, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	_, err := s.c.Send(ctx, channelID, content)
	return err
}
