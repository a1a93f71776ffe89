// internal/app/gatekeeper/engine.go
package gatekeeper

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dalemusser/waffle/pantry/text"
	"github.com/yerlanov/chatgate/internal/app/policy/accesspolicy"
	"go.uber.org/zap"
)

// MaxAttempts is how many emails a user may try per join request.
const MaxAttempts = 2

// DefaultEmailWaitTimeout bounds how long one attempt waits for a reply.
const DefaultEmailWaitTimeout = 120 * time.Second

// Platform is the slice of the chat platform the join flow needs.
// Failures are absorbed by the engine, never propagated upward.
type Platform interface {
	SendMessage(ctx context.Context, userID int64, text string) error
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	DeclineJoinRequest(ctx context.Context, chatID, userID int64) error
}

// EntitlementSource resolves which GetCourse groups an email belongs to.
type EntitlementSource interface {
	GroupsForEmail(ctx context.Context, email string) ([]string, error)
}

// MemberStore is the slice of the member store the join flow needs.
type MemberStore interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	Add(ctx context.Context, chatID, userID int64, email string) error
}

// PolicySource hands out the current access-policy snapshot.
type PolicySource interface {
	Current() *accesspolicy.Policy
}

// Engine runs the per-join-request state machine: greet, collect an
// email, validate it against the entitlement source and the duplicate
// rule, and approve or decline the request.
type Engine struct {
	platform     Platform
	entitlements EntitlementSource
	members      MemberStore
	policies     PolicySource
	sessions     *sessionRegistry
	waitTimeout  time.Duration
	log          *zap.Logger
}

// NewEngine constructs an Engine. waitTimeout <= 0 selects the default.
func NewEngine(platform Platform, entitlements EntitlementSource, members MemberStore, policies PolicySource, waitTimeout time.Duration, logger *zap.Logger) *Engine {
	if waitTimeout <= 0 {
		waitTimeout = DefaultEmailWaitTimeout
	}
	return &Engine{
		platform:     platform,
		entitlements: entitlements,
		members:      members,
		policies:     policies,
		sessions:     newSessionRegistry(),
		waitTimeout:  waitTimeout,
		log:          logger,
	}
}

// HandleMessage routes an inbound direct message to the user's
// outstanding email prompt, if any. It reports whether the message was
// consumed so the caller can fall through to other handlers.
func (e *Engine) HandleMessage(userID int64, msg string) bool {
	return e.sessions.deliver(userID, msg)
}

// HandleJoinRequest runs the whole flow for one join request. It is
// designed to be called on its own goroutine; every failure is logged
// and absorbed here.
func (e *Engine) HandleJoinRequest(ctx context.Context, chatID, userID int64) {
	pol := e.policies.Current()
	log := e.log.With(zap.Int64("chat_id", chatID), zap.Int64("user_id", userID))
	log.Info("join request received")

	// If the greeting cannot be delivered (the user never started a
	// conversation with the bot, or blocked it) there is no channel to
	// collect an email on. Leave the request pending on the platform.
	if err := e.platform.SendMessage(ctx, userID, pol.Messages.Greeting); err != nil {
		log.Warn("greeting not delivered, leaving request pending", zap.Error(err))
		return
	}

	slot, err := e.sessions.acquire(chatID, userID)
	if err != nil {
		log.Warn("join flow aborted", zap.Error(err))
		return
	}
	defer e.sessions.release(userID, slot)
	log = log.With(zap.String("session", slot.token))

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		email := e.awaitEmail(ctx, slot, log)

		if email != "" {
			dup, err := e.members.EmailExists(ctx, email)
			if err != nil {
				log.Error("duplicate check failed", zap.Error(err))
				// An email that could not be checked for duplicates must
				// not reach validation. The attempt fails.
				email = ""
			} else if dup {
				log.Info("email already registered, declining", zap.String("email", email))
				e.decline(ctx, chatID, userID, pol.Messages.Duplicate, log)
				return
			}
		}

		if e.entitled(ctx, pol, chatID, email, log) {
			e.finalizeApproval(ctx, chatID, userID, email, pol, log)
			return
		}

		if attempt < MaxAttempts {
			log.Info("attempt failed, prompting for another email", zap.Int("attempt", attempt))
			if err := e.platform.SendMessage(ctx, userID, pol.Messages.Retry); err != nil {
				log.Warn("retry prompt not delivered", zap.Error(err))
			}
		}
	}

	log.Info("all attempts failed, declining join request")
	e.decline(ctx, chatID, userID, pol.Messages.Denied, log)
}

// awaitEmail blocks for the user's next message, up to the configured
// timeout. Timeout yields an empty email, which consumes the attempt.
func (e *Engine) awaitEmail(ctx context.Context, slot *waitSlot, log *zap.Logger) string {
	t := time.NewTimer(e.waitTimeout)
	defer t.Stop()

	select {
	case msg := <-slot.ch:
		return text.Fold(strings.TrimSpace(msg))
	case <-t.C:
		log.Warn("timed out waiting for email")
		return ""
	case <-ctx.Done():
		return ""
	}
}

// entitled reports whether the email's GetCourse groups intersect the
// groups that admit users to this chat. Lookup errors and unmapped chats
// fail the attempt rather than the flow.
func (e *Engine) entitled(ctx context.Context, pol *accesspolicy.Policy, chatID int64, email string, log *zap.Logger) bool {
	if email == "" {
		return false
	}

	groups, err := e.entitlements.GroupsForEmail(ctx, email)
	if err != nil {
		log.Warn("entitlement lookup failed", zap.String("email", email), zap.Error(err))
		return false
	}
	if len(groups) == 0 {
		log.Info("email has no entitlement groups", zap.String("email", email))
		return false
	}

	allowed, ok := pol.AllowedGroupIDs(chatID)
	if !ok {
		log.Warn("chat not present in access policy")
		return false
	}

	held := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		held[g] = struct{}{}
	}
	for _, id := range allowed {
		if _, ok := held[strconv.FormatInt(id, 10)]; ok {
			return true
		}
	}
	log.Info("email groups do not admit to this chat", zap.String("email", email))
	return false
}

// finalizeApproval approves the request, notifies the user, and records
// the membership. Failures past validation terminate the flow without
// another attempt: retrying an approval that half-succeeded would only
// dig the hole deeper.
func (e *Engine) finalizeApproval(ctx context.Context, chatID, userID int64, email string, pol *accesspolicy.Policy, log *zap.Logger) {
	if err := e.platform.ApproveJoinRequest(ctx, chatID, userID); err != nil {
		log.Error("approving join request failed", zap.Error(err))
		return
	}
	if err := e.platform.SendMessage(ctx, userID, pol.Messages.Approved); err != nil {
		log.Warn("approval notice not delivered", zap.Error(err))
	}
	if err := e.members.Add(ctx, chatID, userID, email); err != nil {
		log.Error("recording membership failed", zap.String("email", email), zap.Error(err))
		return
	}
	log.Info("join request approved", zap.String("email", email))
}

func (e *Engine) decline(ctx context.Context, chatID, userID int64, notice string, log *zap.Logger) {
	if err := e.platform.DeclineJoinRequest(ctx, chatID, userID); err != nil {
		log.Error("declining join request failed", zap.Error(err))
	}
	if err := e.platform.SendMessage(ctx, userID, notice); err != nil {
		log.Warn("decline notice not delivered", zap.Error(err))
	}
}
