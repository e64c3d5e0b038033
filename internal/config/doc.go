// Package config handles configuration loading for wa-broker.
//
// # Overview
//
// Configuration starts from built-in defaults, is optionally overlaid with a
// YAML or TOML file, and is finally overridden by environment variables.
// Without any file the broker runs on port 3000 with the standard session
// timings.
//
// # Configuration File
//
// The file is chosen by, in order:
//
//  1. The --config flag
//  2. The WA_BROKER_CONFIG environment variable
//
// Files ending in .toml are parsed as TOML; everything else as YAML.
//
// # Environment Variables
//
//	PORT                  HTTP port (default 3000), overrides server.http_addr
//	WA_BROKER_CONFIG      Config file path
//	WA_AUTH_DIR           Overrides whatsapp.auth_dir
//	WA_BROKER_JWT_SECRET  Overrides auth.jwt_secret
//	WA_BROKER_LOG_LEVEL   Overrides logging.level
//
// File values may also reference environment variables:
//
//	auth:
//	  jwt_secret: "${WA_JWT_SECRET}"
//
// # Configuration Sections
//
// Session timings (time.ParseDuration syntax):
//
//	sessions:
//	  idle_timeout: "2m"        # Unauthenticated session lifetime
//	  ready_timeout: "15s"      # Max wait of a send for a ready session
//	  poll_interval: "1s"       # Readiness re-check period
//	  start_grace: "2s"         # Wait after start-session before reporting
//	  recreate_interval: "30s"  # Token refill period for disconnect recreation
//	  recreate_burst: 3
//	  recreate_max_delay: "5m"  # Drop recreations that would wait longer
//
// Backend:
//
//	whatsapp:
//	  auth_dir: "/var/lib/wa-broker"
//	  sql_driver: "sqlite3"     # or "sqlite" for the pure Go driver
//	  os_name: "wa-broker"
//
// Remote documents:
//
//	media:
//	  fetch_timeout: "30s"
//	  max_bytes: 33554432
//
// Authentication, Tailscale, and logging follow the gateway conventions:
//
//	auth:
//	  jwt_secret: "${WA_JWT_SECRET}"
//	tailscale:
//	  enabled: false
//	  hostname: "wa-broker"
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text or json
package config
