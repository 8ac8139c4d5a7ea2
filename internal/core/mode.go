// Package core is the orchestration layer.  It composes the transport,
// capabilities, relays and the task executor into a running agent and
// provides a builder that turns a Config into that agent.
//
// Architecture layers (bottom → top):
//
//	transport  →  capability/relay  →  executor  →  engine  →  core  →  cmd (CLI)
//
// The builder in this package is the single dispatch point used by
// cmd.Execute.
package core

import "context"

// Mode is a complete operational mode.  It owns its full lifecycle from
// first contact to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
