// Package config handles configuration loading for coven-line.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension) with environment variable expansion. Defaults are applied for
// everything except the listen address.
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	line:
//	  channel_access_token: "${LINE_TOKEN}"
//
// CHANNEL_ACCESS_TOKEN and DESTINATION_USER_ID always override the file.
// Missing credentials are reported by Warnings() and never stop startup;
// the affected tool calls fail instead.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:3000"
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-line"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
//	database:
//	  path: "./coven-line.db"   # empty disables tool-call history
//	  retention: "720h"         # prune history older than this at startup
//
//	line:
//	  channel_access_token: "${CHANNEL_ACCESS_TOKEN}"
//	  destination_user_id: "U..."
//	  base_url: "https://api.line.me"
//	  retry_max: 2
//	  timeout: "10s"
//
//	mcp:
//	  call_timeout: "30s"
//	  completion_timeout: "60s"
//	  keepalive_interval: "30s"
//	  replay_window: "10m"
//	  channel_buffer: 64
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, w := range cfg.Warnings() {
//	    logger.Warn(w)
//	}
package config
