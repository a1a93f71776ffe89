// internal/app/admin/commands.go
package admin

import (
	"context"
	"strings"

	"github.com/yerlanov/chatgate/internal/app/policy/accesspolicy"
	"go.uber.org/zap"
)

// Rearmer reschedules the daily access check after a policy change.
type Rearmer interface {
	Rearm(spec string) error
}

// Notifier delivers command replies back to the admin.
type Notifier interface {
	SendMessage(ctx context.Context, userID int64, text string) error
}

// Commands handles operator commands arriving over chat. Authorization
// is checked against the policy snapshot current at the moment the
// command arrives, never a cached one.
type Commands struct {
	policies  *accesspolicy.Provider
	scheduler Rearmer
	notifier  Notifier
	log       *zap.Logger
}

func New(policies *accesspolicy.Provider, scheduler Rearmer, notifier Notifier, logger *zap.Logger) *Commands {
	return &Commands{
		policies:  policies,
		scheduler: scheduler,
		notifier:  notifier,
		log:       logger,
	}
}

// Handle processes text as an operator command. It reports whether the
// text was a command; non-command text is left for the join flow.
func (c *Commands) Handle(ctx context.Context, userID int64, text string) bool {
	switch commandName(text) {
	case "reload":
		c.reload(ctx, userID)
		return true
	default:
		return false
	}
}

// commandName extracts the bare command from the first token, tolerating
// the @botname suffix Telegram appends in group mentions.
func commandName(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return name
}

func (c *Commands) reload(ctx context.Context, userID int64) {
	log := c.log.With(zap.Int64("user_id", userID))

	if !c.policies.Current().IsAdmin(userID) {
		log.Warn("reload refused, not an admin")
		c.reply(ctx, userID, "Forbidden.")
		return
	}

	pol, err := c.policies.Reload()
	if err != nil {
		log.Error("policy reload failed", zap.Error(err))
		c.reply(ctx, userID, "Reload failed, previous configuration kept.")
		return
	}

	if err := c.scheduler.Rearm(pol.CronSpec()); err != nil {
		log.Error("rescheduling daily check failed", zap.Error(err))
		c.reply(ctx, userID, "Configuration reloaded, but rescheduling failed.")
		return
	}

	log.Info("policy reloaded", zap.String("cron", pol.CronSpec()))
	c.reply(ctx, userID, "Configuration reloaded.")
}

func (c *Commands) reply(ctx context.Context, userID int64, text string) {
	if err := c.notifier.SendMessage(ctx, userID, text); err != nil {
		c.log.Warn("command reply failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
