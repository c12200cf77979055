package usecase

import (
	"context"
	"fmt"
	"math"

	"gpt3bot/internal/domain"
)

// checkCooldown records this invocation and reports whether the command may
// run. Inside the cooldown window the user is told how long to wait; the
// policy decides whether the command still runs.
func (b *Bot) checkCooldown(ctx context.Context, msg domain.InboundMessage) (bool, error) {
	now := b.now()
	prev, seen, err := b.store.TouchCooldown(ctx, msg.Author.ID, now)
	if err != nil {
		return false, newError(ErrorInternal, "cooldown_write_error", err)
	}
	if !seen || b.cooldown <= 0 {
		return true, nil
	}
	elapsed := now.Sub(prev)
	if elapsed >= b.cooldown {
		return true, nil
	}

	wait := int(math.Ceil((b.cooldown - elapsed).Seconds()))
	if err := b.reply(ctx, msg, fmt.Sprintf("You must wait %d seconds before using the bot again", wait)); err != nil {
		return false, err
	}
	return b.cooldownPolicy == CooldownWarn, nil
}
