// Package dedupe remembers recently executed request keys so a replayed
// JSON-RPC id on the same session is rejected instead of sending twice.
package dedupe
