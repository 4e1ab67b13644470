package agent

import (
	"context"
	"fmt"

	"github.com/oshokin/device-update-agent/internal/config"
	"github.com/oshokin/device-update-agent/internal/domain/update"
	"github.com/oshokin/device-update-agent/internal/logger"
)

// Options are inputs accepted by the agent entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
}

// Run executes one engine activation and is the public entry point for the
// CLI and the service wrapper. It returns nil when the run was canceled by
// the context: shutdown is a normal way for an unattended agent to stop.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "update-agent")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cfg.PackageID != "" {
		ctx = logger.WithKV(ctx, "package", cfg.PackageID)
	}

	engine := New(cfg)

	events, unsubscribe := engine.Subscribe(DefaultEventBuffer)
	defer unsubscribe()

	go logStatusEvents(ctx, events)

	if err = engine.Activate(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info(ctx, "Agent stopped")
			return nil
		}

		return err
	}

	logger.Info(ctx, "Agent completed")

	return nil
}

// logStatusEvents mirrors status events into the log, standing in for an
// external status display when none is attached.
func logStatusEvents(ctx context.Context, events <-chan update.StatusEvent) {
	for event := range events {
		if event.Percent >= 0 {
			logger.InfoKV(ctx, event.Message,
				"phase", event.Phase.String(),
				"percent", event.Percent,
				"bytes", event.BytesDownloaded,
				"total", event.TotalBytes)

			continue
		}

		logger.InfoKV(ctx, event.Message, "phase", event.Phase.String())
	}
}
