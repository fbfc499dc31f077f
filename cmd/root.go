// Package cmd defines the tierfetch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tierfetch/internal/config"
	"github.com/JakeFAU/tierfetch/internal/invoke"
	"github.com/JakeFAU/tierfetch/internal/server"
)

// closeTimeout bounds App.Close once a command finishes.
const closeTimeout = 15 * time.Second

// App is the slice of the service the commands drive. Tests swap in a fake.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Fetcher() invoke.Dispatcher
	Logger() *zap.Logger
}

type serverApp struct {
	*server.App
}

func (a serverApp) Fetcher() invoke.Dispatcher {
	return a.Dispatcher()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{App: app}, nil
}

type rootOptions struct {
	cfgFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tierfetch",
		Short: "Fetch pages through the ScrapingBee API with automatic proxy tier escalation.",
		Long: `tierfetch serves fetch requests by calling the ScrapingBee API on the
cheapest proxy tier first and escalating to premium and stealth proxies
only when a cheaper tier is blocked. Results are normalized into text or
base64 binary content and optionally cached by request fingerprint.`,
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newInvokeCmd(opts))
	return cmd
}

// withApp builds the application, runs fn and always closes the app.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(App) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newApp(ctx, opts.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		err = errors.Join(err, app.Close(closeCtx))
	}()
	return fn(app)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "tierfetch:", err)
		os.Exit(1)
	}
}
