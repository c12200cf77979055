package usecase

import (
	"context"
	"strings"

	"gpt3bot/internal/domain"
	"gpt3bot/internal/queue"
)

const debugRule = "----------------------------------------------------------------------------------\n"

func debugTranscript(prompt, response string) string {
	var sb strings.Builder
	sb.WriteString(debugRule)
	sb.WriteString("Prompt:\n```\n" + prompt + "\n```\n")
	sb.WriteString("Response:\n```\n" + response + "\n```\n")
	return sb.String()
}

// debugChunks splits a long transcript and re-fences each piece so every
// chunk renders as a code block on its own.
func debugChunks(transcript string, size int) []string {
	chunks := Paginate(transcript, size)
	if len(chunks) <= 1 {
		return chunks
	}
	out := make([]string, len(chunks))
	for i, c := range chunks {
		switch {
		case i == 0:
			out[i] = c + "\n```\n"
		case i < len(chunks)-1:
			out[i] = "\n```\n" + c + "```\n"
		default:
			out[i] = "```\n" + c
		}
	}
	return out
}

// sendDebug queues the prompt and raw response for the debug channel. It
// never fails: problems are reported to the debug channel instead.
func (b *Bot) sendDebug(ctx context.Context, prompt string, out domain.Completion) {
	if b.debugChannelID == "" {
		return
	}
	if err := b.queueDebug(ctx, prompt, out); err != nil {
		b.logger.Warn("debug_message_failed", "error", err.Error())
		if perr := b.debug.Put(ctx, queue.Message{Content: "Error sending debug message: " + err.Error(), ChannelID: b.debugChannelID}); perr != nil {
			b.logger.Warn("debug_message_failed", "error", perr.Error())
		}
	}
}

func (b *Bot) queueDebug(ctx context.Context, prompt string, out domain.Completion) error {
	raw, err := out.PrettyJSON()
	if err != nil {
		return err
	}
	for _, chunk := range debugChunks(debugTranscript(prompt, raw), b.cutoff) {
		if err := b.debug.Put(ctx, queue.Message{Content: chunk, ChannelID: b.debugChannelID}); err != nil {
			return err
		}
	}
	return nil
}
