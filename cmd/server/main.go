// Package main is the entry point for the metabase-mcp server.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/navi/metabase-mcp/internal/config"
	"github.com/navi/metabase-mcp/internal/metabase"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.1.0-dev"

func main() {
	// stdout carries the stdio transport.
	log.SetOutput(os.Stderr)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts serveOptions

	root := &cobra.Command{
		Use:           "metabase-mcp",
		Short:         "MCP server exposing the Metabase REST API as tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"path to a YAML config file (default $"+config.EnvConfigPath+")")
	opts.bind(root)

	root.AddCommand(newServeCmd(&opts), newCheckCmd(&opts), newVersionCmd())
	return root
}

// loadConfig reads the config file named by path, falling back to
// METABASE_MCP_CONFIG_PATH. A missing file leaves the defaults in place.
// Environment variables are applied on top.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}

	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			log.Printf("could not load config from %q (%v), using defaults", path, err)
		} else {
			log.Printf("loaded config from %q", path)
			cfg = loaded
		}
	}

	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClient resolves the Metabase connection settings of cfg and returns a
// client for them.
func newClient(cfg *config.Config) (*metabase.HTTPClient, error) {
	conn, err := config.Resolve(cfg.Metabase)
	if err != nil {
		return nil, err
	}
	return metabase.NewHTTPClient(conn)
}
