package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/wayguard/internal/api"
	"github.com/mattjoyce/wayguard/internal/audit"
	"github.com/mattjoyce/wayguard/internal/auth"
	"github.com/mattjoyce/wayguard/internal/compositor"
	"github.com/mattjoyce/wayguard/internal/config"
	"github.com/mattjoyce/wayguard/internal/lock"
	"github.com/mattjoyce/wayguard/internal/log"
	"github.com/mattjoyce/wayguard/internal/storage"
	"github.com/mattjoyce/wayguard/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const (
	envAPIURL = "WAYGUARD_API_URL"
	envAPIKey = "WAYGUARD_API_KEY"

	defaultAPIURL = "http://127.0.0.1:8765"
	// Grant log rows older than this are pruned at startup.
	auditRetention = 30 * 24 * time.Hour
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "grant":
		return runGrantNoun(args)
	case "key":
		return runKeyNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "keygrab":
		if hasHelpFlag(args) {
			printKeygrabHelp()
			return 0
		}
		return runKeygrab(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: wayguard version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("wayguard %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`wayguard - Wayland trust core: spawned clients, grants and global keybindings

Usage:
  wayguard <noun> <action> [flags]

Core Resources (Nouns):
  system    Compositor lifecycle and health
  grant     Authorizations bound to spawned clients
  key       Keybinding inspection and synthetic input
  config    Configuration validation

System Commands:
  system start      Start the compositor core in foreground
  system status     Show health from the admin API
  system watch      Live grants, keybindings and events TUI

Grant Commands:
  grant list              List live grants
  grant create CMD        Run CMD under a new grant
  grant revoke ID         Revoke a grant and disconnect its client
  grant log ID            Show the audit trail of a grant

Key Commands:
  key list                List keybinding registrations
  key inject KEY[:MODS]   Feed a key through the keybinding path

Config Commands:
  config check      Validate configuration
  config show       Print the effective configuration

Client Helpers:
  keygrab KEY[:MODS]...   Register keys and print events (run under a grant)

General:
  version           Show version information
  help              Show this help message

Use 'wayguard <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: wayguard system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: wayguard config <action> [--config PATH]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printSystemStartHelp() {
	fmt.Println("Usage: wayguard system start [--config PATH]")
	fmt.Println("Start the compositor core: open the display, run startup.command and the")
	fmt.Println("configured grants, and serve the admin API when enabled.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: wayguard system watch [flags]")
	fmt.Println()
	fmt.Println("Live view of grants, keybinding registrations and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Printf("  --api-url URL    Admin API URL (default: %s, or %s)\n", defaultAPIURL, envAPIURL)
	fmt.Printf("  --api-key KEY    API Bearer Token (or %s env var)\n", envAPIKey)
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Select grant")
}

// resolveConfigPath returns path, or the discovered config when empty.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	discovered, err := config.DiscoverConfigPath()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	result := struct {
		Valid       bool   `json:"valid"`
		Path        string `json:"path,omitempty"`
		Fingerprint string `json:"fingerprint,omitempty"`
		Error       string `json:"error,omitempty"`
	}{}

	path, err := resolveConfigPath(*configPath)
	var cfg *config.Config
	if err == nil {
		result.Path = path
		cfg, err = config.Load(path)
	}
	if err == nil {
		result.Fingerprint, err = config.Fingerprint(cfg)
	}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Valid = true
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else if result.Valid {
		fmt.Printf("Configuration OK: %s\n", result.Path)
		fmt.Printf("fingerprint: %s\n", result.Fingerprint)
	} else {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %s\n", result.Error)
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON instead of YAML")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	redactSecrets(cfg)

	var data []byte
	if *jsonOut {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Print(strings.TrimRight(string(data), "\n") + "\n")
	return 0
}

func redactSecrets(cfg *config.Config) {
	if cfg.API.Auth.APIKey != "" {
		cfg.API.Auth.APIKey = "<redacted>"
	}
	for i := range cfg.API.Auth.Tokens {
		cfg.API.Auth.Tokens[i].Token = "<redacted>"
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("wayguard starting", "version", version, "config", path)

	pidLockPath := filepath.Join(cfg.State.Dir(), "wayguard.lock")
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			logger.Error("another instance is running", "path", pidLockPath)
		} else {
			logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		}
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	store := audit.NewStore(db)
	if n, err := store.Prune(ctx, auditRetention); err != nil {
		logger.Warn("failed to prune grant log", "error", err)
	} else if n > 0 {
		logger.Info("pruned grant log", "rows", n)
	}

	comp, err := compositor.New(cfg, compositor.WithAudit(store))
	if err != nil {
		logger.Error("failed to build compositor", "error", err)
		return 1
	}
	defer comp.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)

	if err := comp.Start(ctx); err != nil {
		logger.Error("failed to start compositor", "error", err)
		return 1
	}
	if s := comp.Socket(); s != "" {
		logger.Info("display ready", "WAYLAND_DISPLAY", s)
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, comp, store, comp.Hub(), log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("wayguard running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	cancel()
	logger.Info("wayguard stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "Error: API key required. Use --api-key or %s env var.\n", envAPIKey)
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// apiFlags registers --api-url and --api-key with environment defaults.
func apiFlags(fs *flag.FlagSet) (*string, *string) {
	url := os.Getenv(envAPIURL)
	if url == "" {
		url = defaultAPIURL
	}
	apiURL := fs.String("api-url", url, "Admin API URL")
	apiKey := fs.String("api-key", os.Getenv(envAPIKey), "API Bearer Token")
	return apiURL, apiKey
}
