// internal/app/platform/telegram/updates.go
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Handler receives the two inbound event kinds the service reacts to.
// HandleMessage must return quickly; join requests are dispatched on
// their own goroutines because each flow blocks waiting for an email.
type Handler interface {
	HandleJoinRequest(ctx context.Context, chatID, userID int64)
	HandleMessage(ctx context.Context, userID int64, text string)
}

// Listen runs the long-polling update loop until ctx is cancelled.
func (c *Client) Listen(ctx context.Context, h Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "chat_join_request"}

	updates := c.bot.GetUpdatesChan(u)
	c.log.Info("listening for telegram updates")

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.log.Info("telegram update loop stopped")
			return
		case upd, ok := <-updates:
			if !ok {
				c.log.Info("telegram update channel closed")
				return
			}
			switch {
			case upd.ChatJoinRequest != nil:
				req := upd.ChatJoinRequest
				c.log.Debug("join request update",
					zap.Int64("chat_id", req.Chat.ID),
					zap.Int64("user_id", req.From.ID))
				go h.HandleJoinRequest(ctx, req.Chat.ID, req.From.ID)
			case upd.Message != nil && upd.Message.From != nil:
				h.HandleMessage(ctx, upd.Message.From.ID, upd.Message.Text)
			}
		}
	}
}
