// ABOUTME: Entry point for the wa-broker session broker
// ABOUTME: Runs the HTTP server and provides health, sessions, and token helper commands

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/wa-broker/internal/auth"
	"github.com/2389/wa-broker/internal/config"
	"github.com/2389/wa-broker/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                   _               _
__      ____ _    | |__  _ __ ___ | | _____ _ __
\ \ /\ / / _' |___| '_ \| '__/ _ \| |/ / _ \ '__|
 \ V  V / (_| |___| |_) | | | (_) |   <  __/ |
  \_/\_/ \__,_|   |_.__/|_|  \___/|_|\_\___|_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: wa-broker <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                        Start the broker")
		fmt.Println("  health                       Check broker health")
		fmt.Println("  sessions                     List live sessions")
		fmt.Println("  token --subject NAME [--ttl 720h]")
		fmt.Println("                               Mint an API token (needs auth.jwt_secret)")
		fmt.Println()
		fmt.Println("Configuration: WA_BROKER_CONFIG (YAML or TOML file), PORT, WA_AUTH_DIR")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "sessions":
		err = runSessions(ctx)
	case "token":
		err = runToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.FromEnvironment("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Auth dir:  %s (%s)\n", cfg.WhatsApp.AuthDir, cfg.WhatsApp.SQLDriver)
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  idle %s, ready wait %s\n", cfg.Sessions.IdleTimeout, cfg.Sessions.ReadyTimeout)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		} else if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! API is unauthenticated (set auth.jwt_secret)")
	}

	fmt.Println()

	logger.Info("starting wa-broker",
		"version", version,
		"http_addr", cfg.Server.HTTPAddr,
		"auth_dir", cfg.WhatsApp.AuthDir,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// get performs an authenticated GET against the local broker.
func get(ctx context.Context, cfg *config.Config, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(cfg.Server.HTTPAddr)+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token := os.Getenv("WA_BROKER_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.FromEnvironment("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resp, err := get(ctx, cfg, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println(string(body))
	return nil
}

func runSessions(ctx context.Context) error {
	cfg, err := config.FromEnvironment("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resp, err := get(ctx, cfg, "/sessions")
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("listing sessions: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var list gateway.ListSessionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(list.Sessions) == 0 {
		fmt.Println("no live sessions")
		return nil
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	for _, s := range list.Sessions {
		state := yellow.Sprint(s.State)
		if s.State == "ready" {
			state = green.Sprint(s.State)
		}
		fmt.Printf("  %-24s %-16s %s\n", s.UserID, state, color.HiBlackString(s.Generation))
	}
	return nil
}

// runToken mints a bearer token for the HTTP API.
// Supports both "--subject value" and "--subject=value" formats.
func runToken(args []string) error {
	var subject string
	ttl := 30 * 24 * time.Hour

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return errors.New("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return errors.New("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return errors.New("--subject flag is required")
	}
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, err := config.FromEnvironment("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}
