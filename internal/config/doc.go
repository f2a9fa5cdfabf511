// Package config loads relay settings.
//
// Settings come from, in increasing precedence: built-in defaults, an optional
// YAML file, and environment variables:
//
//   - PORT                        listen port or address (default 3000)
//   - ALLOWED_ORIGINS             comma-separated browser origins, "*" for any
//   - MAX_MESSAGE_SIZE            largest inbound frame in bytes
//   - SEND_BUFFER_SIZE            per-connection outbound queue depth
//   - RATE_LIMIT_BURST            inbound frames allowed per refill interval
//   - RATE_LIMIT_REFILL_INTERVAL  refill interval as a duration ("2s") or whole seconds
//   - ASSET_PATH                  file served at "/" instead of the built-in page
//
// Watch re-runs Load whenever the YAML file changes.
package config
