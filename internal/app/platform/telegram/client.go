// internal/app/platform/telegram/client.go
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Client wraps the Telegram Bot API with the narrow command surface the
// rest of the service consumes: direct messages, join-request verdicts,
// and ban/unban. Transport and rate-limit concerns stay in here.
type Client struct {
	bot *tgbotapi.BotAPI
	log *zap.Logger
}

func New(token string, logger *zap.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize bot: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
	return &Client{bot: bot, log: logger}, nil
}

// SendMessage delivers a Markdown direct message to a user.
func (c *Client) SendMessage(ctx context.Context, userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := c.bot.Send(msg)
	return err
}

// ApproveJoinRequest admits the user's pending join request.
func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	_, err := c.bot.Request(tgbotapi.ApproveChatJoinRequestConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		UserID:     userID,
	})
	return err
}

// DeclineJoinRequest rejects the user's pending join request.
func (c *Client) DeclineJoinRequest(ctx context.Context, chatID, userID int64) error {
	_, err := c.bot.Request(tgbotapi.DeclineChatJoinRequest{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		UserID:     userID,
	})
	return err
}

// BanMember bans a user from a chat.
func (c *Client) BanMember(ctx context.Context, chatID, userID int64) error {
	_, err := c.bot.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	})
	return err
}

// UnbanMember lifts a ban so the user may rejoin later; combined with
// BanMember it removes a member without blocking them permanently.
func (c *Client) UnbanMember(ctx context.Context, chatID, userID int64) error {
	_, err := c.bot.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		OnlyIfBanned:     true,
	})
	return err
}
