package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime/debug"
	"unicode/utf8"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/settings"
)

const (
	refusalText        = "I'm sorry, I can't mention users, roles, or channels."
	genericFailureText = "Something went wrong, please try again later"
)

// mentionPattern matches user, role and channel mentions and the mass
// mentions. A mass mention must not follow a word character, so addresses
// like foo@here.com pass.
var mentionPattern = regexp.MustCompile(`<@!?\d+>|<@&\d+>|<#\d+>|(?:^|[^\w.+-])@(?:everyone|here)\b`)

type completionRequest struct {
	msg    domain.InboundMessage
	prompt string
	// conv is the user's active conversation, nil for one-off prompts. For
	// new prompts its History already ends with the Human/Assistant turn.
	conv *domain.Conversation
	// response is the reply being redone, nil for a new reply. Redone
	// replies are always edited in place, with or without conv.
	response *domain.MessageRef
}

// complete runs one exchange with the completion service and relays the
// result. Failures are reported to the user rather than returned; the error
// result only carries problems that could not be reported.
func (b *Bot) complete(ctx context.Context, req completionRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = b.handleCompletionFailure(ctx, req.msg, fmt.Errorf("usecase: completion panicked: %v", r))
		}
	}()

	if err := b.exchange(ctx, req); err != nil {
		return b.handleCompletionFailure(ctx, req.msg, err)
	}
	return nil
}

func (b *Bot) exchange(ctx context.Context, req completionRequest) error {
	out, err := b.completer.Complete(ctx, req.prompt)
	if err != nil {
		return err
	}
	text := out.Text()

	if mentionPattern.MatchString(text) {
		b.logger.Info("completion_refused", "user_id", req.msg.Author.ID, "reason", "mention")
		_, err := b.platform.Reply(ctx, refOf(req.msg), refusalText)
		return err
	}

	if req.conv != nil {
		req.conv.History += text + "\n"
		req.conv.Turns++
		if err := b.store.PutConversation(ctx, *req.conv); err != nil {
			return fmt.Errorf("usecase: save conversation: %w", err)
		}
	}

	if err := b.deliver(ctx, req, text); err != nil {
		return err
	}

	if req.conv != nil {
		if err := b.checkConversationLimit(ctx, req.msg, *req.conv); err != nil {
			return err
		}
	}

	b.sendDebug(ctx, req.prompt, out)
	return nil
}

// deliver sends text back to the user: edited into the redone reply,
// split over several messages, or as one reply carrying a retry button.
func (b *Bot) deliver(ctx context.Context, req completionRequest, text string) error {
	chunks := Paginate(text, b.cutoff)
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	if req.response != nil {
		if err := b.platform.Edit(ctx, *req.response, chunks[0]); err != nil {
			return err
		}
		return b.sendFollowUps(ctx, req.msg.ChannelID, chunks[1:])
	}

	if len(chunks) > 1 {
		if _, err := b.platform.Reply(ctx, refOf(req.msg), chunks[0]); err != nil {
			return err
		}
		return b.sendFollowUps(ctx, req.msg.ChannelID, chunks[1:])
	}

	if req.conv != nil {
		_, err := b.platform.Reply(ctx, refOf(req.msg), text)
		return err
	}

	sent, err := b.platform.ReplyWithRetry(ctx, refOf(req.msg), text, RedoCustomIDPrefix+newUUID())
	if err != nil {
		return err
	}
	return b.store.PutRedo(ctx, domain.RedoEntry{
		UserID:     req.msg.Author.ID,
		Prompt:     req.prompt,
		ChannelID:  req.msg.ChannelID,
		MessageID:  req.msg.ID,
		ResponseID: sent.MessageID,
		UpdatedAt:  b.now(),
	})
}

func (b *Bot) sendFollowUps(ctx context.Context, channelID string, chunks []string) error {
	for _, c := range chunks {
		if _, err := b.platform.Send(ctx, channelID, c); err != nil {
			return err
		}
	}
	return nil
}

// handleCompletionFailure reports err to the user. Validation errors are
// relayed verbatim; anything else ends the user's conversation.
func (b *Bot) handleCompletionFailure(ctx context.Context, msg domain.InboundMessage, err error) error {
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		return b.reply(ctx, msg, verr.Error())
	}

	ue := classifyCompletionError(err)
	b.logger.Error("completion_failed",
		"user_id", msg.Author.ID,
		"channel_id", msg.ChannelID,
		"code", string(ue.Code),
		"reason", ue.Reason,
		"error", err.Error(),
		"stack", string(debug.Stack()),
	)

	var errs []error
	if _, rerr := b.platform.Reply(ctx, refOf(msg), genericFailureText); rerr != nil {
		errs = append(errs, rerr)
	}
	if _, serr := b.platform.Send(ctx, msg.ChannelID, err.Error()); serr != nil {
		errs = append(errs, serr)
	}
	if eerr := b.forceEnd(ctx, msg); eerr != nil {
		errs = append(errs, eerr)
	}
	if len(errs) > 0 {
		return newError(ErrorPlatform, "failure_report_error", errors.Join(errs...))
	}
	return nil
}

// Redo re-submits the user's last one-off prompt into the reply it
// produced. If the user is conversing, the new text is added to the
// conversation and counts as a turn. A user without a recorded prompt is
// ignored.
func (b *Bot) Redo(ctx context.Context, userID string) error {
	entry, ok, err := b.store.GetRedo(ctx, userID)
	if err != nil {
		return newError(ErrorInternal, "redo_read_error", err)
	}
	if !ok {
		b.logger.Debug("redo_missing", "user_id", userID)
		return nil
	}
	conv, active, err := b.store.GetConversation(ctx, userID)
	if err != nil {
		return newError(ErrorInternal, "state_read_error", err)
	}

	req := completionRequest{
		msg: domain.InboundMessage{
			ID:        entry.MessageID,
			ChannelID: entry.ChannelID,
			Author:    domain.Author{ID: userID},
		},
		prompt:   entry.Prompt,
		response: &domain.MessageRef{ChannelID: entry.ChannelID, MessageID: entry.ResponseID},
	}
	// The redone text joins a conversation started since the original reply.
	if active {
		req.conv = &conv
	}
	return b.complete(ctx, req)
}

// Paginate splits text into consecutive slices of size characters; the last
// may be shorter. It does not look for word boundaries.
func Paginate(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 || utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	var chunks []string
	start, n := 0, 0
	for i := range text {
		if n == size {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, text[start:])
}
