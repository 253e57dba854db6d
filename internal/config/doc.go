// Package config loads the sync engine TOML configuration.
//
// # Configuration Discovery
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/syncengine/config.toml
//  3. If the file doesn't exist, fall back to defaults
//  4. If the file exists but fields are blank, use their defaults
//
// # TOML Format
//
//	data_dir = "~/.local/share/syncengine"
//	log_level = "info"
//	sync_interval = "5m"
//	api_bind = "127.0.0.1:8090"
//	conflict_strategy = "use_remote"
//
//	[connectivity]
//	probe_address = "1.1.1.1:443"
//	probe_interval = "15s"
//	probe_timeout = "3s"
//
//	[remote]
//	endpoint = "localhost:9000"
//	bucket = "notes"
//	prefix = "mutations"
//	access_key = "minioadmin"
//	secret_key = "minioadmin"
//	use_ssl = false
//	rate_limit = 10.0
//	burst = 5
//
//	[breaker]
//	max_failures = 5
//	open_timeout = "30s"
//
// Durations use time.ParseDuration syntax. Tilde paths are expanded.
// Command-line flags and SYNCENGINE_* environment variables are layered on
// top of these values by the CLI.
package config
