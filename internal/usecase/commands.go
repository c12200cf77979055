package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/settings"
)

const (
	embedColor           = 0x00FF00
	threadsDeletedText   = "All conversation threads have been deleted."
	invalidParameterText = "The parameter is not a valid parameter"
)

func (b *Bot) helpEmbed() domain.Embed {
	p := b.prefix
	return domain.Embed{
		Title:       "GPT3Bot Help",
		Description: "The current commands",
		Color:       embedColor,
		Fields: []domain.EmbedField{
			{Name: p + " <prompt>", Value: "Ask GPT3 something. Be clear, long, and concise in your prompt. Don't waste tokens."},
			{Name: p + " converse", Value: "Start a conversation with GPT3"},
			{Name: p + " converse nothread", Value: "Start a conversation with GPT3 in this channel"},
			{Name: p + " end", Value: "End a conversation with GPT3"},
			{Name: p + "p", Value: "Print the current settings of the model"},
			{Name: p + "s <model parameter> <value>", Value: "Change the parameter of the model named by <model parameter> to new value <value>"},
			{Name: p + "u", Value: "See the total token usage and price"},
			{Name: p, Value: "See this help text"},
		},
	}
}

func (b *Bot) sendHelp(ctx context.Context, msg domain.InboundMessage) error {
	if err := b.platform.SendEmbed(ctx, msg.ChannelID, b.helpEmbed()); err != nil {
		return newError(ErrorPlatform, "help_send_error", err)
	}
	return nil
}

func (b *Bot) sendUsage(ctx context.Context, msg domain.InboundMessage) error {
	u, err := b.usage.Total(ctx)
	if err != nil {
		return newError(ErrorInternal, "usage_read_error", err)
	}
	e := domain.Embed{
		Title:       "GPT3Bot Usage",
		Description: "The current usage",
		Color:       embedColor,
		Fields: []domain.EmbedField{
			{Name: "Total tokens used", Value: strconv.FormatInt(u.Tokens, 10)},
			{Name: "Total price", Value: fmt.Sprintf("$%.2f", u.Cost)},
		},
	}
	if err := b.platform.SendEmbed(ctx, msg.ChannelID, e); err != nil {
		return newError(ErrorPlatform, "usage_send_error", err)
	}
	return nil
}

func (b *Bot) sendSettings(ctx context.Context, msg domain.InboundMessage) error {
	pairs := b.settings.Snapshot().Pairs()
	fields := make([]domain.EmbedField, 0, len(pairs))
	for _, kv := range pairs {
		fields = append(fields, domain.EmbedField{Name: kv[0], Value: kv[1]})
	}
	e := domain.Embed{
		Title:       "GPT3Bot Settings",
		Description: "The current settings of the model",
		Color:       embedColor,
		Fields:      fields,
	}
	if err := b.platform.ReplyEmbed(ctx, refOf(msg), e); err != nil {
		return newError(ErrorPlatform, "settings_send_error", err)
	}
	return nil
}

// changeSetting handles "<prefix>s <name> <value>".
func (b *Bot) changeSetting(ctx context.Context, msg domain.InboundMessage) error {
	args := strings.Fields(msg.Content[len(b.prefix)+1:])
	if len(args) < 2 {
		return b.reply(ctx, msg, fmt.Sprintf("Usage: %ss <model parameter> <value>", b.prefix))
	}
	name, value := args[0], args[1]
	if !settings.IsField(name) {
		return b.reply(ctx, msg, invalidParameterText)
	}

	v, err := b.settings.Set(name, value)
	if err != nil {
		return b.reply(ctx, msg, err.Error())
	}
	b.logger.Info("setting_changed", "user_id", msg.Author.ID, "name", name, "value", value)

	if err := b.reply(ctx, msg, "Successfully set the parameter "+name+" to "+value); err != nil {
		return err
	}
	if name == "mode" {
		return b.reply(ctx, msg, fmt.Sprintf(
			"The mode has been set to %s. This has changed the temperature top_p to the mode defaults of %s and %s",
			v.Mode, strconv.FormatFloat(v.Temp, 'g', -1, 64), strconv.FormatFloat(v.TopP, 'g', -1, 64),
		))
	}
	return nil
}

// deleteAllThreads removes every thread whose name marks it as a
// conversation thread, open or closed. Individual failures are logged.
func (b *Bot) deleteAllThreads(ctx context.Context, msg domain.InboundMessage) error {
	threads, err := b.platform.ListThreads(ctx)
	if err != nil {
		return newError(ErrorPlatform, "thread_list_error", err)
	}
	deleted := 0
	for _, t := range threads {
		name := strings.ToLower(t.Name)
		if !strings.Contains(name, "with gpt") && !strings.Contains(name, "closed-gpt") {
			continue
		}
		if err := b.platform.DeleteThread(ctx, t.ID); err != nil {
			b.logger.Warn("thread_delete_failed", "thread_id", t.ID, "guild_id", t.GuildID, "error", err.Error())
			continue
		}
		deleted++
	}
	b.logger.Info("threads_deleted", "user_id", msg.Author.ID, "count", deleted)
	return b.reply(ctx, msg, threadsDeletedText)
}
