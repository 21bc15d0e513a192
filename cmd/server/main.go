// Package main provides the jukebox server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/tagbox/internal/api/connect"
	"github.com/osa030/tagbox/internal/api/socket"
	"github.com/osa030/tagbox/internal/app/jukebox"
	"github.com/osa030/tagbox/internal/app/policy"
	"github.com/osa030/tagbox/internal/infra/config"
	"github.com/osa030/tagbox/internal/infra/logger"
	"github.com/osa030/tagbox/internal/infra/metrics"
)

var (
	app          = kingpin.New("tagbox-server", "tagbox jukebox server")
	configPath   = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose      = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile      = app.Flag("logfile", "Path to log file (default: from config)").String()
	startupDelay = app.Flag("startup-delay", "Wait before opening devices, for boots where the sound card shows up late").Default("0s").Duration()

	// list-policies command
	listPoliciesCmd = app.Command("list-policies", "List available policies and exit")

	// resolve command
	resolveCmd     = app.Command("resolve", "Resolve an identifier through the configured resolvers and exit")
	resolveID      = resolveCmd.Arg("id", "Tag identifier, or album title with --catalog").Required().String()
	resolveHint    = resolveCmd.Arg("hint", "Artist hint").String()
	resolveCatalog = resolveCmd.Flag("catalog", "Use the catalog chain instead of the presence chain").Bool()
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-policies command
	if command == listPoliciesCmd.FullCommand() {
		printPolicies()
		return
	}

	// Console logging until the config says otherwise
	if _, err := logger.Init(logger.Config{Output: "stdout", Level: levelFlag("info")}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Command-line flags win over the config file
	loggerConfig := logger.Config{Output: cfg.Log.Output, Level: levelFlag(cfg.Log.Level)}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}
	defer closer.Close()

	if command == resolveCmd.FullCommand() {
		if err := resolve(cfg); err != nil {
			zlog.Error().Msgf("Resolve failed: %v", err)
			os.Exit(1)
		}
		return
	}

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

func levelFlag(level string) string {
	if *verbose {
		return "debug"
	}
	return level
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *startupDelay > 0 {
		zlog.Info().Msgf("Waiting %v before startup", *startupDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(*startupDelay):
		}
	}

	// Create jukebox
	jb, err := jukebox.NewFromConfig(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create jukebox")
	}
	defer func() {
		if err := jb.Close(); err != nil {
			zlog.Error().Msgf("Failed to close jukebox: %v", err)
		}
	}()

	metrics.Register()

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register services
	remotePath, remoteHandler := apiconnect.NewRemoteService(jb).Handler(
		connect.WithInterceptors(apiconnect.NewAuthInterceptor(cfg.Remote.Token)),
	)
	mux.Handle(remotePath, remoteHandler)
	mux.Handle(cfg.Server.MetricsPath, metrics.Handler())

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to capture listener errors
	serverErrCh := make(chan error, 2)

	// Raw socket intake
	var sock *socket.Listener
	if !cfg.Socket.Disabled {
		sock = socket.NewListener(socket.Config{
			Addr:           cfg.Socket.Addr,
			IdleTimeout:    time.Duration(cfg.Socket.IdleTimeoutSec) * time.Second,
			MaxMessageSize: cfg.Socket.MaxMessageSize,
		}, jb)
		if err := sock.Listen(); err != nil {
			return err
		}
		go func() {
			if err := sock.Serve(ctx); err != nil {
				serverErrCh <- errors.Wrap(err, "socket listener")
			}
		}()
	}

	// Start jukebox
	if err := jb.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start jukebox")
	}

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	var runErr error
	select {
	case <-ctx.Done():
		zlog.Info().Msg("Received shutdown signal...")
	case <-jb.Done():
		zlog.Info().Msg("Jukebox stopped, shutting down...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop the loop first so watch streams end
	jb.Stop()
	if sock != nil {
		if err := sock.Close(); err != nil {
			zlog.Error().Msgf("Failed to close socket listener: %v", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// Satisfies socket.Pusher.
var _ socket.Pusher = (*jukebox.Manager)(nil)

// resolve runs one resolution through the configured chain and prints the
// locations.
func resolve(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Arbiter.ResolveTimeoutSec)*time.Second)
	defer cancel()

	chains, err := jukebox.NewResolvers(ctx, cfg)
	if err != nil {
		return err
	}

	chain := chains.Presence
	if *resolveCatalog {
		if chains.Catalog == nil {
			return errors.New("no catalog resolvers configured")
		}
		chain = chains.Catalog
	}

	locations, err := chain.Resolve(ctx, *resolveID, *resolveHint)
	if err != nil {
		return err
	}
	for i, loc := range locations {
		fmt.Printf("%3d  %s\n", i+1, loc)
	}
	return nil
}

// printPolicies prints available policies.
func printPolicies() {
	fmt.Println("Available Policies:")
	registered := policy.GetRegistered()
	for _, name := range policy.Names() {
		p := registered[name]()
		codes := strings.Join(p.ReturnCodes(), ", ")
		fmt.Printf("  %-20s - %s [codes: %s]\n", p.Name(), p.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
