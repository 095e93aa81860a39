package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zmcp/odata-mcp-gateway/internal/bridge"
	"github.com/zmcp/odata-mcp-gateway/internal/config"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/debug"
	"github.com/zmcp/odata-mcp-gateway/internal/hint"
	"github.com/zmcp/odata-mcp-gateway/internal/mcp"
	"github.com/zmcp/odata-mcp-gateway/internal/observability"
	"github.com/zmcp/odata-mcp-gateway/internal/transport/stdio"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "odata-mcp-gateway [service-url]",
	Short: "OData to MCP gateway - serve the OData services of several systems as MCP tools",
	Long: `OData to MCP gateway.

Reads the $metadata of one or more OData v2/v4 services per system and exposes
their entity sets, function imports and actions as Model Context Protocol tools
over stdio.

Examples:
  odata-mcp-gateway https://services.odata.org/V2/Northwind/Northwind.svc/
  odata-mcp-gateway --user admin --password secret https://host/sap/opu/odata/sap/ZSALES_SRV/
  odata-mcp-gateway --systems-file systems.toml --watch
  ODATA_SYSTEM_1_URL=https://erp.example.com ODATA_SYSTEM_1_SERVICES=ZSALES_SRV odata-mcp-gateway`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runGateway,
}

func init() {
	cfg = &config.Config{}
	f := rootCmd.Flags()

	// Single-service system
	f.StringVar(&cfg.ServiceURL, "service", "", "URL of the OData service (overrides positional argument and ODATA_URL env var)")
	f.StringVarP(&cfg.Username, "user", "u", "", "Username for basic authentication (overrides ODATA_USER env var)")
	f.StringVarP(&cfg.Password, "password", "p", "", "Password for basic authentication (overrides ODATA_PASS env var)")
	f.StringVar(&cfg.Password, "pass", "", "Password for basic authentication (alias for --password)")
	f.StringVar(&cfg.CookieFile, "cookie-file", "", "Path to cookie file in Netscape format")
	f.StringVar(&cfg.CookieString, "cookie-string", "", "Cookie string (key1=val1; key2=val2)")

	// OAuth2 client credentials
	f.StringVar(&cfg.OAuth2TokenURL, "oauth2-token-url", "", "OAuth2 token endpoint for client credentials authentication")
	f.StringVar(&cfg.OAuth2ClientID, "oauth2-client-id", "", "OAuth2 client ID")
	f.StringVar(&cfg.OAuth2ClientSecret, "oauth2-client-secret", "", "OAuth2 client secret")
	f.StringVar(&cfg.OAuth2Scopes, "oauth2-scopes", "", "Comma-separated OAuth2 scopes")

	// AAD authentication
	f.BoolVar(&cfg.AuthAAD, "auth-aad", false, "Use Azure AD authentication")
	f.StringVar(&cfg.AADTenant, "aad-tenant", "common", "Azure AD tenant ID")
	f.StringVar(&cfg.AADClientID, "aad-client-id", "", "Azure AD application (client) ID")
	f.StringVar(&cfg.AADClientSecret, "aad-client-secret", "", "Azure AD client secret (confidential client flow)")
	f.StringVar(&cfg.AADScopes, "aad-scopes", "", "Comma-separated OAuth2 scopes (default: service URL + /.default)")
	f.BoolVar(&cfg.AADBrowser, "aad-browser", false, "Open the device code page in a browser")

	// Multiple systems
	f.StringVar(&cfg.SystemsFile, "systems-file", "", "TOML or YAML file listing the backend systems")
	f.BoolVar(&cfg.Watch, "watch", false, "Reload the systems file when it changes")
	f.BoolVar(&cfg.StrictSearchable, "strict-searchable", false, "Only generate search tools for entity sets marked searchable")
	f.Float64Var(&cfg.RateLimit, "rate-limit", 0, "Default maximum requests per second per system (0 = unlimited)")

	// Tool naming options
	f.StringVar(&cfg.ToolPrefix, "tool-prefix", "", "Custom prefix for tool names (use with --no-postfix)")
	f.StringVar(&cfg.ToolPostfix, "tool-postfix", "", "Custom postfix for tool names (default: _for_<service_id>)")
	f.BoolVar(&cfg.NoPostfix, "no-postfix", false, "Use prefix instead of postfix for tool naming")
	f.BoolVar(&cfg.ToolShrink, "tool-shrink", false, "Use shortened tool names (upd_, del_)")
	f.IntVar(&cfg.MaxToolNameLength, "max-tool-name-length", constants.DefaultToolNameMaxLength, "Maximum tool name length")

	// Entity, function and operation filtering
	f.StringVar(&cfg.Entities, "entities", "", "Comma-separated list of entity sets to generate tools for. Supports wildcards: 'Product*,Order*'")
	f.StringVar(&cfg.Functions, "functions", "", "Comma-separated list of function imports to generate tools for. Supports wildcards: 'Get*'")
	f.StringVar(&cfg.EnableOps, "enable", "", "Operation types to enable: C,S,F,G,U,D,A (R = S,F,G)")
	f.StringVar(&cfg.DisableOps, "disable", "", "Operation types to disable: C,S,F,G,U,D,A (R = S,F,G)")
	f.BoolVar(&cfg.ReadOnly, "read-only", false, "Hide all modifying operations (create, update, delete, actions and non-GET functions)")
	f.BoolVar(&cfg.ReadOnly, "ro", false, "Shorthand for --read-only")
	f.BoolVar(&cfg.ReadOnlyButFunctions, "read-only-but-functions", false, "Hide create, update and delete but keep functions and actions")
	f.BoolVar(&cfg.ReadOnlyButFunctions, "robf", false, "Shorthand for --read-only-but-functions")
	f.BoolVarP(&cfg.ClaudeCodeFriendly, "claude-code-friendly", "c", false, "Drop the $ prefix from query option parameters")

	// Output and debugging options
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output to stderr")
	f.BoolVar(&cfg.Debug, "debug", false, "Alias for --verbose")
	f.BoolVar(&cfg.SortTools, "sort-tools", true, "Sort tools alphabetically in the output")
	f.BoolVar(&cfg.Trace, "trace", false, "Load every system, print systems and generated tools as JSON, then exit")
	f.BoolVar(&cfg.TraceMCP, "trace-mcp", false, "Write every MCP message to a trace file in the temp directory")

	// Response enhancement options
	f.BoolVar(&cfg.PaginationHints, "pagination-hints", false, "Add pagination support with suggested_next_call and has_more indicators")
	f.BoolVar(&cfg.LegacyDates, "legacy-dates", true, "Convert /Date(ms)/ values to ISO 8601 and back")
	f.BoolVar(&cfg.NoLegacyDates, "no-legacy-dates", false, "Disable legacy date format conversion")
	f.BoolVar(&cfg.VerboseErrors, "verbose-errors", false, "Log failed tool calls with their (masked) arguments")
	f.BoolVar(&cfg.ResponseMetadata, "response-metadata", false, "Include __metadata blocks in entity responses")
	f.IntVar(&cfg.MaxResponseSize, "max-response-size", constants.DefaultMaxResponseSize, "Maximum response size in bytes")
	f.IntVar(&cfg.MaxItems, "max-items", constants.DefaultMaxItems, "Maximum number of items in a response")

	// Hints
	f.StringVar(&cfg.HintsFile, "hints-file", "", "Path to hints JSON or YAML file (defaults to hints.json next to the binary)")
	f.StringVar(&cfg.Hint, "hint", "", "Hint JSON or text added to every service info")

	// Observability
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	f.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", "", "Export traces to this OTLP/gRPC endpoint")

	// Bind flags to viper for environment variable support
	for _, name := range []string{
		"service", "user", "password", "cookie-file", "cookie-string", "systems-file",
		"oauth2-token-url", "oauth2-client-id", "oauth2-client-secret", "oauth2-scopes",
		"aad-tenant", "aad-client-id", "aad-client-secret", "aad-scopes",
		"verbose", "read-only", "rate-limit", "metrics-addr", "otlp-endpoint", "hints-file",
	} {
		viper.BindPFlag(name, f.Lookup(name))
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("ODATA")
	viper.AutomaticEnv()
}

// applyEnv fills options not given on the command line from ODATA_* variables.
func applyEnv(cmd *cobra.Command, args []string) {
	if cfg.Debug {
		cfg.Verbose = true
	}
	if cfg.ServiceURL == "" && len(args) > 0 {
		cfg.ServiceURL = args[0]
	}
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = firstNonEmpty(viper.GetString("URL"), viper.GetString("SERVICE_URL"), viper.GetString("service"))
	}

	changed := cmd.Flags().Changed
	setString := func(dst *string, flag string, keys ...string) {
		if changed(flag) || *dst != "" {
			return
		}
		for _, k := range append([]string{flag}, keys...) {
			if v := viper.GetString(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&cfg.Username, "user", "USERNAME")
	setString(&cfg.Password, "password", "PASS")
	setString(&cfg.CookieFile, "cookie-file")
	setString(&cfg.CookieString, "cookie-string")
	setString(&cfg.SystemsFile, "systems-file")
	setString(&cfg.OAuth2TokenURL, "oauth2-token-url")
	setString(&cfg.OAuth2ClientID, "oauth2-client-id")
	setString(&cfg.OAuth2ClientSecret, "oauth2-client-secret")
	setString(&cfg.OAuth2Scopes, "oauth2-scopes")
	setString(&cfg.AADClientID, "aad-client-id")
	setString(&cfg.AADClientSecret, "aad-client-secret")
	setString(&cfg.AADScopes, "aad-scopes")
	setString(&cfg.MetricsAddr, "metrics-addr")
	setString(&cfg.OTLPEndpoint, "otlp-endpoint")
	setString(&cfg.HintsFile, "hints-file")
	if !changed("aad-tenant") {
		if v := viper.GetString("aad-tenant"); v != "" {
			cfg.AADTenant = v
		}
	}
	if !changed("verbose") && viper.GetBool("verbose") {
		cfg.Verbose = true
	}
	if !changed("read-only") && viper.GetBool("read-only") {
		cfg.ReadOnly = true
	}
	if !changed("rate-limit") && viper.IsSet("rate-limit") {
		cfg.RateLimit = viper.GetFloat64("rate-limit")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runGateway(cmd *cobra.Command, args []string) error {
	applyEnv(cmd, args)

	logger := newLogger(cfg.Verbose)
	slog.SetDefault(logger)

	if cfg.ReadOnly && cfg.ReadOnlyButFunctions {
		return fmt.Errorf("cannot use both --read-only and --read-only-but-functions flags at the same time")
	}
	if cfg.Watch && cfg.SystemsFile == "" {
		return fmt.Errorf("--watch requires --systems-file")
	}
	if cfg.Username != "" {
		logger.Debug("Using basic authentication", "user", cfg.Username, "password", debug.MaskPassword(cfg.Password))
	}

	systems, err := config.Resolve(cfg, os.Environ())
	if err != nil {
		return err
	}

	hints := hint.NewManager()
	if err := hints.LoadFromFile(cfg.HintsFile); err != nil {
		if cfg.HintsFile != "" {
			return err
		}
		logger.Warn("Failed to load hints file", "error", err)
	}
	if cfg.Hint != "" {
		if err := hints.SetCLIHint(cfg.Hint); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, constants.MCPServerVersion)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	gw, err := bridge.New(cfg, hints, logger)
	if err != nil {
		return err
	}
	if err := gw.Load(ctx, systems); err != nil {
		if !anyLoaded(gw) {
			return fmt.Errorf("no system could be loaded: %w", err)
		}
		logger.Warn("Some systems failed to load; serving the rest", "error", err)
	}

	if cfg.Trace {
		return printTraceInfo(gw)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, logger)
	}

	server := mcp.NewServer(constants.MCPServerName, constants.MCPServerVersion, gw, logger)
	trans := stdio.New(os.Stdin, os.Stdout, server.HandleMessage)
	trans.SetLogger(logger)
	if cfg.TraceMCP {
		tracer, err := debug.NewTraceLogger("")
		if err != nil {
			logger.Error("Failed to create trace logger", "error", err)
		} else {
			defer tracer.Close()
			trans.SetTracer(tracer)
			logger.Info("MCP trace logging enabled", "file", tracer.Filename())
		}
	}
	server.SetTransport(trans)
	gw.OnToolsChanged(server.NotifyToolsChanged)

	if cfg.Watch {
		watcher := config.NewWatcher(cfg.SystemsFile, func() { reload(ctx, gw, logger) }, logger)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	logger.Info("Gateway ready", "systems", len(gw.Store().SystemIDs()), "tools", len(gw.Store().Tools()))
	err = server.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Shutting down")
		return nil
	}
	return err
}

// reload re-resolves the systems after the systems file changed and applies
// the difference. The running set stays as is when the new file is invalid.
func reload(ctx context.Context, gw *bridge.Bridge, logger *slog.Logger) {
	observability.ConfigReloadsTotal.Inc()
	systems, err := config.Resolve(cfg, os.Environ())
	if err != nil {
		logger.Error("Ignoring invalid systems file", "file", cfg.SystemsFile, "error", err)
		return
	}
	if err := gw.Reconcile(ctx, systems); err != nil {
		logger.Warn("Systems reloaded with errors", "error", err)
		return
	}
	logger.Info("Systems reloaded", "systems", len(systems))
}

// anyLoaded reports whether at least one service of any system has metadata.
func anyLoaded(gw *bridge.Bridge) bool {
	for _, snap := range gw.Store().Snapshots() {
		for _, svc := range snap.Services {
			if svc.Metadata != nil {
				return true
			}
		}
	}
	return false
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed", "error", err)
	}
}

func printTraceInfo(gw *bridge.Bridge) error {
	data, err := json.MarshalIndent(gw.TraceInfo(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace info: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
