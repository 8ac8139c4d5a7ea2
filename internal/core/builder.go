package core

import (
	"context"
	"fmt"

	"striker/config"
	"striker/internal/capability"
	"striker/internal/codec"
	"striker/internal/engine"
	"striker/internal/executor"
	"striker/internal/metrics"
	"striker/internal/relay"
	"striker/internal/session"
	"striker/internal/transport"
	"striker/util"
)

// Options carries collaborators that tests and embedders may replace.
// The zero value selects the platform defaults.
type Options struct {
	Capabilities *capability.Set
	Metrics      *metrics.Collector
}

// Build constructs the agent from the given configuration.  cfg must
// already be validated.
func Build(ctx context.Context, cfg *config.Config, logger *util.Logger, opts ...Options) (Mode, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	caps := capability.Platform()
	if o.Capabilities != nil {
		caps = *o.Capabilities
	}

	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}

	tr := transport.NewHTTP(transport.HTTPConfig{
		Base:        cfg.BaseURL,
		Codec:       c,
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.HTTPTimeout,
		InsecureTLS: cfg.InsecureTLS,
		Logger:      logger.Named("http"),
	})

	dialer := buildDialer(cfg, logger)
	rel := &relay.Relay{
		Dialer:       dialer,
		Logger:       logger.Named("relay"),
		Metrics:      o.Metrics,
		PollInterval: cfg.PollInterval,
		AcceptPoll:   cfg.AcceptPoll,
		RetryDelay:   cfg.BridgeRetryDelay,
		DialTimeout:  cfg.DialTimeout,
		BlockSize:    cfg.BlockSize,
	}

	exec := executor.New(executor.Options{
		Transport:     tr,
		Relay:         rel,
		Capabilities:  caps,
		Metrics:       o.Metrics,
		Logger:        logger,
		MaxResultSize: cfg.MaxResultSize,
		MaxKeystrokes: cfg.MaxKeystrokes,
		PublicIPURL:   cfg.PublicIPURL,
	})

	sess := session.New(ctx, session.Options{
		AuthKey:  cfg.AuthKey,
		Delay:    cfg.Delay,
		WriteDir: cfg.WriteDir,
		Capacity: cfg.MaxTasks,
		Logger:   logger,
	})

	eng := engine.New(engine.Config{
		Session:         sess,
		Addresses:       session.NewAddressList(cfg.BaseURL),
		Transport:       tr,
		Codec:           c,
		Executor:        exec,
		Metrics:         o.Metrics,
		Logger:          logger,
		MaxContactFails: cfg.MaxContactFails,
		GracePeriod:     config.DefaultGracePeriod,
	})

	return &AgentMode{
		Engine:  eng,
		Session: sess,
		Dialer:  dialer,
		Metrics: o.Metrics,
		Logger:  logger,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the relay dialer: through the SSH gateway when
// one is configured, plain TCP otherwise.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.GatewayEnabled {
		return transport.NewSSHDialer(&transport.SSHConfig{
			User:          cfg.GatewayUser,
			Host:          cfg.GatewayHost,
			Port:          cfg.GatewayPort,
			KeyPath:       cfg.GatewayKey,
			UseAgent:      cfg.GatewayAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.GatewayKnownHosts,
			ConnTimeout:   cfg.DialTimeout,
		}, logger)
	}
	return &transport.TCPDialer{Timeout: cfg.DialTimeout}
}
