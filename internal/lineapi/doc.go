// Package lineapi talks to the LINE Messaging API on behalf of tool handlers.
//
// Responses are returned as raw JSON so callers can pass them through
// unmodified. Non-2xx responses become *APIError values which match
// ErrRemoteAPI with errors.Is. Send operations carry an X-Line-Retry-Key
// header that stays fixed across retries so a message is delivered once.
package lineapi
