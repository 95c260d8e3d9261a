// Package config provides 12-factor configuration for the virtual browsing runtime.
//
// Configuration is loaded from environment variables with defaults. A .env file in
// the working directory (or one named explicitly) is read first; variables already
// set in the environment win over the file.
//
// Configuration Sections:
//   - Logging: log level and output format
//   - Sandbox: retrieval strategy and script execution limits
//   - Rewrite: retrieval concurrency of the page rewrite pipeline
//   - Network: the real network used for non-virtual fetches
//   - Server: inspection API listen address
//   - RateLimit: per-IP rate limiting of the inspection API
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("retrieval strategy: %s\n", cfg.Sandbox.Retrieval)
//
// Environment Variables:
//   - LOG_LEVEL, LOG_DEV
//   - SANDBOX_RETRIEVAL, SANDBOX_TIMEOUT, SANDBOX_CONSOLE, SANDBOX_CALL_STACK
//   - REWRITE_WORKERS
//   - NETWORK_ENABLED, NETWORK_TIMEOUT, NETWORK_RETRIES, NETWORK_RPS
//   - PORT, HOST
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
