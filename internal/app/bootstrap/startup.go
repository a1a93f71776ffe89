// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"github.com/yerlanov/chatgate/internal/app/admin"
	"github.com/yerlanov/chatgate/internal/app/entitlement/getcourse"
	"github.com/yerlanov/chatgate/internal/app/gatekeeper"
	"github.com/yerlanov/chatgate/internal/app/notify"
	"github.com/yerlanov/chatgate/internal/app/platform/telegram"
	"github.com/yerlanov/chatgate/internal/app/policy/accesspolicy"
	"github.com/yerlanov/chatgate/internal/app/reconcile"
	memberstore "github.com/yerlanov/chatgate/internal/app/store/members"
	notificationstore "github.com/yerlanov/chatgate/internal/app/store/notifications"
	"github.com/yerlanov/chatgate/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// runtime bundles the long-running pieces started here so Shutdown can
// stop them in order.
type runtime struct {
	scheduler  *reconcile.Scheduler
	dispatcher *notify.Dispatcher

	listenCancel context.CancelFunc
	listenDone   chan struct{}
}

// rt is set by Startup and consumed by Shutdown. WAFFLE calls both
// exactly once per process, so a package-level handle is enough.
var rt *runtime

// Startup wires the whole service together after DB connections and
// schema setup are complete: the access-policy provider, the GetCourse
// client, the Telegram client, the join-request engine, the daily
// reconciliation scheduler, the notification dispatcher, and the
// long-polling update loop.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	policies, err := accesspolicy.NewProvider(appCfg.PolicyPath)
	if err != nil {
		logger.Error("loading access policy failed", zap.String("path", appCfg.PolicyPath), zap.Error(err))
		return err
	}

	entitlements, err := getcourse.New(getcourse.Config{
		BaseURL:         appCfg.GetCourseBaseURL,
		APIKey:          appCfg.GetCourseAPIKey,
		GroupIDField:    appCfg.GetCourseGroupIDField,
		GroupExportWait: appCfg.GetCourseGroupWait,
		UserExportWait:  appCfg.GetCourseUserWait,
	}, logger)
	if err != nil {
		return err
	}

	bot, err := telegram.New(appCfg.TelegramToken, logger)
	if err != nil {
		return err
	}

	members := memberstore.New(deps.MongoDatabase)
	notifications := notificationstore.New(deps.MongoDatabase)

	engine := gatekeeper.NewEngine(bot, entitlements, members, policies, appCfg.EmailWaitTimeout, logger)
	reconciler := reconcile.New(bot, entitlements, members, notifications, policies, logger)

	scheduler := reconcile.NewScheduler(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Batch())
		defer cancel()
		reconciler.Run(ctx)
	}, logger)
	if err := scheduler.Start(policies.Current().CronSpec()); err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(notifications, bot, logger, appCfg.NotifyInterval, appCfg.NotifyTolerance)
	dispatcher.Start()

	commands := admin.New(policies, scheduler, bot, logger)

	listenCtx, listenCancel := context.WithCancel(context.Background())
	listenDone := make(chan struct{})
	go func() {
		defer close(listenDone)
		bot.Listen(listenCtx, &updateRouter{engine: engine, commands: commands})
	}()

	rt = &runtime{
		scheduler:    scheduler,
		dispatcher:   dispatcher,
		listenCancel: listenCancel,
		listenDone:   listenDone,
	}
	return nil
}

// updateRouter fans inbound Telegram events out to the join engine and
// the admin commands. Commands are matched first so an admin who happens
// to be mid-join can still run /reload.
type updateRouter struct {
	engine   *gatekeeper.Engine
	commands *admin.Commands
}

func (u *updateRouter) HandleJoinRequest(ctx context.Context, chatID, userID int64) {
	u.engine.HandleJoinRequest(ctx, chatID, userID)
}

func (u *updateRouter) HandleMessage(ctx context.Context, userID int64, text string) {
	if u.commands.Handle(ctx, userID, text) {
		return
	}
	u.engine.HandleMessage(userID, text)
}
