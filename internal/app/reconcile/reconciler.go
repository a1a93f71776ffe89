// internal/app/reconcile/reconciler.go
package reconcile

import (
	"context"
	"time"

	"github.com/dalemusser/waffle/pantry/text"
	"github.com/google/uuid"
	"github.com/yerlanov/chatgate/internal/app/policy/accesspolicy"
	"github.com/yerlanov/chatgate/internal/domain/models"
	"go.uber.org/zap"
)

// Platform is the slice of the chat platform reconciliation needs.
// Ban followed by unban removes a member without blocking them forever.
type Platform interface {
	BanMember(ctx context.Context, chatID, userID int64) error
	UnbanMember(ctx context.Context, chatID, userID int64) error
}

// EntitlementSource resolves the emails currently in a GetCourse group.
type EntitlementSource interface {
	EmailsInGroup(ctx context.Context, groupID int64) ([]string, error)
}

// MemberStore is the slice of the member store reconciliation needs.
type MemberStore interface {
	ListByChat(ctx context.Context, chatID int64) ([]models.Member, error)
	Remove(ctx context.Context, chatID, userID int64) error
}

// NotificationStore enqueues deferred revocation notices.
type NotificationStore interface {
	Add(ctx context.Context, userID int64, message string, sendAt time.Time) error
}

// PolicySource hands out the current access-policy snapshot.
type PolicySource interface {
	Current() *accesspolicy.Policy
}

// Reconciler re-derives chat membership from GetCourse once a day.
// Stored membership is a cache of last-known-granted state; entitlement
// can lapse without notice, so every member is re-verified and the stale
// ones are evicted with a deferred notice.
type Reconciler struct {
	platform      Platform
	entitlements  EntitlementSource
	members       MemberStore
	notifications NotificationStore
	policies      PolicySource
	now           func() time.Time
	log           *zap.Logger
}

func New(platform Platform, entitlements EntitlementSource, members MemberStore, notifications NotificationStore, policies PolicySource, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		platform:      platform,
		entitlements:  entitlements,
		members:       members,
		notifications: notifications,
		policies:      policies,
		now:           time.Now,
		log:           logger,
	}
}

// Run performs one full reconciliation pass over every configured group.
// Notification send times start at the policy base time and step one
// second per revocation across the entire run, so a large purge never
// bursts the messaging API.
func (r *Reconciler) Run(ctx context.Context) {
	pol := r.policies.Current()
	log := r.log.With(zap.String("run_id", uuid.NewString()))
	log.Info("daily access check started")

	base := pol.SendBase(r.now())
	offset := 0

	for name, group := range pol.Groups {
		glog := log.With(zap.String("group", name))

		entitled, ok := r.collectEntitled(ctx, group, glog)
		if !ok {
			glog.Error("no entitlement data for group, skipping until next run")
			continue
		}
		glog.Info("entitled emails collected", zap.Int("count", len(entitled)))

		for _, chatID := range group.ChatIDs {
			offset = r.reconcileChat(ctx, chatID, entitled, pol, base, offset, glog)
		}
	}

	log.Info("daily access check finished", zap.Int("revoked", offset))
}

// collectEntitled unions the emails of every GetCourse group configured
// for the policy group. A failed fetch for one id is logged and skipped;
// partial results still count. Only when every fetch fails is the group
// reported unusable, since reconciling against an empty set would evict
// everyone on an outage.
func (r *Reconciler) collectEntitled(ctx context.Context, group accesspolicy.Group, log *zap.Logger) (map[string]struct{}, bool) {
	entitled := make(map[string]struct{})
	fetched := 0

	for _, gcID := range group.GCGroupIDs {
		emails, err := r.entitlements.EmailsInGroup(ctx, gcID)
		if err != nil {
			log.Warn("fetching group emails failed", zap.Int64("gc_group_id", gcID), zap.Error(err))
			continue
		}
		fetched++
		for _, email := range emails {
			entitled[text.Fold(email)] = struct{}{}
		}
	}

	return entitled, fetched > 0
}

// reconcileChat evicts every stored member of chatID whose email is not
// in the entitled set, and returns the advanced notification offset.
func (r *Reconciler) reconcileChat(ctx context.Context, chatID int64, entitled map[string]struct{}, pol *accesspolicy.Policy, base time.Time, offset int, log *zap.Logger) int {
	clog := log.With(zap.Int64("chat_id", chatID))

	members, err := r.members.ListByChat(ctx, chatID)
	if err != nil {
		clog.Error("listing chat members failed", zap.Error(err))
		return offset
	}
	clog.Info("checking chat members", zap.Int("count", len(members)))

	for _, m := range members {
		if _, ok := entitled[m.Email]; ok {
			continue
		}
		if r.revoke(ctx, m, pol, base.Add(time.Duration(offset)*time.Second), clog) {
			offset++
		}
	}
	return offset
}

// revoke removes one stale member: ban+unban on the platform, delete the
// record, enqueue the deferred notice. A platform failure leaves the
// member untouched for retry on the next daily run.
func (r *Reconciler) revoke(ctx context.Context, m models.Member, pol *accesspolicy.Policy, sendAt time.Time, log *zap.Logger) bool {
	mlog := log.With(zap.Int64("user_id", m.UserID), zap.String("email", m.Email))

	if err := r.platform.BanMember(ctx, m.ChatID, m.UserID); err != nil {
		mlog.Warn("removing member failed", zap.Error(err))
		return false
	}
	if err := r.platform.UnbanMember(ctx, m.ChatID, m.UserID); err != nil {
		mlog.Warn("lifting removal ban failed", zap.Error(err))
		return false
	}

	if err := r.members.Remove(ctx, m.ChatID, m.UserID); err != nil {
		mlog.Error("deleting membership record failed", zap.Error(err))
		return false
	}

	if err := r.notifications.Add(ctx, m.UserID, pol.Messages.Revoked, sendAt); err != nil {
		mlog.Error("enqueueing revocation notice failed", zap.Error(err))
		return false
	}

	mlog.Info("member revoked", zap.Time("notice_at", sendAt))
	return true
}
