package core

import (
	"context"
	"fmt"

	"striker/internal/engine"
	"striker/internal/metrics"
	"striker/internal/session"
	"striker/internal/transport"
	"striker/util"
)

// AgentMode runs one session engine and releases the relay dialer when
// the session ends.
type AgentMode struct {
	Engine  *engine.Engine
	Session *session.Session
	Dialer  transport.Dialer
	Metrics *metrics.Collector
	Logger  *util.Logger
}

// Run drives the engine until the session is aborted or ctx ends.
func (m *AgentMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	m.Logger.Verbose("agent starting (delay %ds)", m.Session.Delay())
	if err := m.Engine.Run(ctx); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	m.Logger.Verbose("agent stopped: %s", m.Metrics.JSON())
	return nil
}
