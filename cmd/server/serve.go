package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/navi/metabase-mcp/internal/auth"
	"github.com/navi/metabase-mcp/internal/cards"
	"github.com/navi/metabase-mcp/internal/collections"
	"github.com/navi/metabase-mcp/internal/config"
	"github.com/navi/metabase-mcp/internal/connection"
	"github.com/navi/metabase-mcp/internal/dashboards"
	"github.com/navi/metabase-mcp/internal/databases"
	"github.com/navi/metabase-mcp/internal/images"
	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/queries"
	"github.com/navi/metabase-mcp/internal/safety"
	"github.com/navi/metabase-mcp/internal/tools"
)

const (
	transportStdio = "stdio"
	transportHTTP  = "http"
)

type serveOptions struct {
	configPath string
	transport  string
	port       int
}

// bind registers the transport flags on cmd.
func (o *serveOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.transport, "transport", "", "transport to serve: stdio or http (default from config, else stdio)")
	cmd.Flags().IntVar(&o.port, "port", 0, "listen port for the http transport (default from config, else 8080)")
}

func newServeCmd(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the MCP server over stdio (the default) or the streamable HTTP transport.

Connection settings come from the config file and the METABASE_* environment
variables. One of METABASE_API_KEY, METABASE_SESSION_ID or
METABASE_USER_EMAIL/METABASE_PASSWORD must be set together with METABASE_URL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	var auditLogger *safety.AuditLogger
	if cfg.Audit.Enabled {
		logger, closer, err := safety.OpenAuditLog(cfg.Audit.LogPath)
		if err != nil {
			log.Printf("warning: %v, audit logging disabled", err)
		} else {
			auditLogger = logger
			defer closer.Close()
		}
	}

	mcpServer := newMCPServer(cfg, client, auditLogger)

	switch cfg.Server.Transport {
	case transportStdio, "":
		log.Printf("metabase-mcp %s serving %s over stdio", Version, client.BaseURL())
		return server.ServeStdio(mcpServer)
	case transportHTTP:
		return serveHTTP(cmd.Context(), cfg, mcpServer)
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", cfg.Server.Transport, transportStdio, transportHTTP)
	}
}

// newMCPServer builds the server and registers every tool against client.
func newMCPServer(cfg *config.Config, client metabase.API, audit *safety.AuditLogger) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"metabase-mcp",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	tools.RegisterAll(mcpServer, registrations(cfg, client, audit))
	return mcpServer
}

// registrations wires the safety settings of cfg into every tool package.
func registrations(cfg *config.Config, client metabase.API, audit *safety.AuditLogger) []tools.Registration {
	var confirm *safety.ConfirmationTracker
	if cfg.Safety.ConfirmDestructive {
		var destructive []string
		destructive = append(destructive, collections.DestructiveTools...)
		destructive = append(destructive, cards.DestructiveTools...)
		destructive = append(destructive, dashboards.DestructiveTools...)
		confirm = safety.NewConfirmationTracker(destructive)
	}

	filter := safety.NewFilter(
		cfg.Safety.Databases.Allowlist,
		cfg.Safety.Databases.Denylist,
	)

	databaseMgr := databases.NewManager(client)

	var regs []tools.Registration
	regs = append(regs, connection.ConnectionTools(client, audit)...)
	regs = append(regs, collections.CollectionTools(collections.NewManager(client), confirm, audit)...)
	regs = append(regs, cards.CardTools(cards.NewManager(client), filter, confirm, audit)...)
	regs = append(regs, dashboards.DashboardTools(dashboards.NewManager(client), confirm, audit)...)
	regs = append(regs, databases.DatabaseTools(databaseMgr, filter, audit)...)
	regs = append(regs, queries.QueryTools(queries.NewManager(client), databaseMgr, filter, audit)...)
	regs = append(regs, images.ImageTools(images.NewManager(client), cfg.Images.OutputDir, audit)...)
	return regs
}

// serveHTTP runs the streamable HTTP transport behind the bearer token
// middleware until SIGINT or SIGTERM.
func serveHTTP(ctx context.Context, cfg *config.Config, mcpServer *server.MCPServer) error {
	tokenBefore := cfg.Server.AuthToken
	token, err := config.EnsureAuthToken(cfg)
	if err != nil {
		log.Printf("warning: could not generate auth token: %v, running without authentication", err)
	} else if tokenBefore == "" {
		log.Printf("generated auth token (set %s to persist): %s", config.EnvAuthToken, token)
	}

	authMiddleware := auth.RequireBearer(cfg.Server.AuthToken)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           authMiddleware(server.NewStreamableHTTPServer(mcpServer)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("metabase-mcp %s listening on %s", Version, addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	log.Println("server stopped")
	return nil
}
