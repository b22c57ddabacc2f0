package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/defistate/xswd-client-go/chains/dero"
	"github.com/defistate/xswd-client-go/cmd/client/config"
	"github.com/defistate/xswd-client-go/streams/xswd/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var configPath string

// session is the wallet connection shared by every command.
type session struct {
	logger *slog.Logger
	xswd   *client.Client
	dero   *dero.Client
	stop   func()
}

func main() {
	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "xswd-client",
		Short:         "Swap tokens on DERO through a wallet's XSWD endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file.")

	root.AddCommand(
		newAddressCmd(),
		newPairsCmd(),
		newQuoteCmd(),
		newEstimateCmd(),
		newSwapCmd(),
		newAddLiquidityCmd(),
	)
	return root
}

func newLogger(cfg *config.ClientConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// openSession loads the configuration, connects to the wallet and records the
// session address.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	rootLogger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}

	xswd, err := client.NewClient(client.Config{
		URL:               cfg.XSWDURL,
		Application:       cfg.ClientApplication(),
		PermissionTimeout: cfg.PermissionTimeout,
		Logger:            rootLogger.With("component", "xswd-client"),
		Registerer:        prometheus.DefaultRegisterer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize XSWD client: %w", err)
	}

	stopWatch := watchPermissions(xswd)

	opts := []dero.Option{dero.WithKeystoreSCID(cfg.KeystoreSCID)}
	if cfg.RegistrySCID != "" {
		opts = append(opts, dero.WithRegistrySCID(cfg.RegistrySCID))
	}
	d := dero.New(xswd, rootLogger.With("component", "dero"), opts...)

	pterm.Info.Printfln("Waiting for the wallet at %s to authorize %s...", cfg.XSWDURL, cfg.Application.Name)
	if err := d.Start(ctx); err != nil {
		stopWatch()
		_ = xswd.Close()
		return nil, err
	}

	return &session{
		logger: rootLogger,
		xswd:   xswd,
		dero:   d,
		stop: func() {
			stopWatch()
			if err := xswd.Close(); err != nil {
				rootLogger.Warn("Failed to close XSWD connection", "error", err)
			}
		},
	}, nil
}

// watchPermissions tells the user when the wallet is waiting on them.
func watchPermissions(xswd *client.Client) func() {
	events := make(chan client.PermissionEvent, 16)
	sub := xswd.SubscribePermissions(events)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case ev := <-events:
				if ev.Pending {
					pterm.Warning.Printfln("Approve %s in your wallet to continue", ev.Method)
				}
			case <-sub.Err():
				return
			}
		}
	}()

	return func() {
		sub.Unsubscribe()
		<-done
	}
}

// withSession runs fn against an open session.
func withSession(fn func(cmd *cobra.Command, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.stop()
		return fn(cmd, s)
	}
}
