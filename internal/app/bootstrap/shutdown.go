// internal/app/bootstrap/shutdown.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Shutdown stops the background workers and tears down DB connections.
// Order matters: the update loop stops first so no new join flows start,
// then the scheduler and dispatcher drain, then Mongo disconnects.
func Shutdown(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if rt != nil {
		rt.listenCancel()
		select {
		case <-rt.listenDone:
		case <-ctx.Done():
			logger.Warn("update loop did not stop before shutdown deadline")
		}

		rt.scheduler.Stop()
		rt.dispatcher.Stop()
	}

	if deps.MongoClient != nil {
		logger.Info("disconnecting MongoDB client")
		if err := deps.MongoClient.Disconnect(ctx); err != nil {
			logger.Error("MongoDB disconnect failed", zap.Error(err))
			return err
		}
	}
	return nil
}
