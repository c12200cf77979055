package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"unicode"

	"gpt3bot/internal/domain"
)

type JobKind int

const (
	JobMessage JobKind = iota
	JobRedo
)

// Job is one unit of work on a user's serial queue: an inbound message or a
// retry click.
type Job struct {
	// ID correlates the log lines of one job.
	ID      string
	Kind    JobKind
	Message domain.InboundMessage
	// UserID is the user that clicked retry. Only set for JobRedo.
	UserID string
}

// Key is the per-user queue key.
func (j Job) Key() string {
	if j.Kind == JobRedo {
		return j.UserID
	}
	return j.Message.Author.ID
}

// HandleJob runs job to completion. It never panics and logs any error it
// could not report to the user.
func (b *Bot) HandleJob(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("job_panicked", "job_id", job.ID, "user_id", job.Key(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	var err error
	switch job.Kind {
	case JobRedo:
		err = b.Redo(ctx, job.UserID)
	default:
		err = b.HandleMessage(ctx, job.Message)
	}
	if err != nil {
		attrs := []any{"job_id", job.ID, "user_id", job.Key(), "error", err.Error()}
		var ue *Error
		if errors.As(err, &ue) {
			attrs = append(attrs, "code", string(ue.Code), "reason", ue.Reason)
		}
		b.logger.Error("job_failed", attrs...)
	}
}

// HandleMessage routes one inbound message.
func (b *Bot) HandleMessage(ctx context.Context, msg domain.InboundMessage) error {
	if msg.Author.ID == "" || msg.Author.ID == b.self() {
		return nil
	}

	privileged := hasAnyRole(msg.Author.Roles, privilegedRoles)
	if !privileged && !hasAnyRole(msg.Author.Roles, optInRoles) {
		return nil
	}

	if strings.TrimSpace(msg.Content) == CleanupCommand {
		if !privileged {
			return nil
		}
		return b.deleteAllThreads(ctx, msg)
	}

	conv, active, err := b.store.GetConversation(ctx, msg.Author.ID)
	if err != nil {
		return newError(ErrorInternal, "state_read_error", err)
	}
	conversing := active && b.inConversationChannel(msg, conv)

	if !strings.HasPrefix(msg.Content, b.prefix) && !conversing {
		return nil
	}

	content := strings.ToLower(msg.Content)
	prefix := strings.ToLower(b.prefix)
	if conversing && contains(endPhrases, strings.TrimSpace(content)) {
		return b.endConversation(ctx, msg, conv)
	}

	proceed, err := b.checkCooldown(ctx, msg)
	if err != nil || !proceed {
		return err
	}

	switch {
	case content == prefix:
		return b.sendHelp(ctx, msg)
	case content == prefix+"u":
		return b.sendUsage(ctx, msg)
	case strings.HasPrefix(content, prefix+"p"):
		return b.sendSettings(ctx, msg)
	case strings.HasPrefix(content, prefix+"s"):
		if !privileged {
			return nil
		}
		return b.changeSetting(ctx, msg)
	}

	prompt := b.extractPrompt(msg.Content)
	switch prompt {
	case "converse", "converse nothread":
		if active {
			return b.reply(ctx, msg, alreadyConversingText)
		}
		return b.startConversation(ctx, msg, prompt == "converse")
	case "end":
		if !active {
			return b.reply(ctx, msg, notConversingText)
		}
		return b.endConversation(ctx, msg, conv)
	}

	if !active {
		return b.complete(ctx, completionRequest{msg: msg, prompt: prompt})
	}
	conv.History += "\nHuman: " + prompt + "\nAssistant:"
	return b.complete(ctx, completionRequest{msg: msg, prompt: conv.History, conv: &conv})
}

// inConversationChannel reports whether msg was posted where conv's owner
// may talk without the command prefix.
func (b *Bot) inConversationChannel(msg domain.InboundMessage, conv domain.Conversation) bool {
	if contains(conversationChannels, msg.ChannelName) {
		return true
	}
	return conv.ThreadID != "" && conv.ThreadID == msg.ChannelID
}

func (b *Bot) extractPrompt(content string) string {
	if !strings.HasPrefix(content, b.prefix) {
		return content
	}
	return strings.TrimLeftFunc(content[len(b.prefix):], unicode.IsSpace)
}

func (b *Bot) reply(ctx context.Context, msg domain.InboundMessage, content string) error {
	if _, err := b.platform.Reply(ctx, refOf(msg), content); err != nil {
		return newError(ErrorPlatform, "reply_error", err)
	}
	return nil
}
