// Package builtins provides the built-in tool packs served to MCP clients.
//
// # Messaging Pack
//
// The messaging pack (builtin:messaging) wraps the LINE Messaging API:
//
//   - push_text_message: Push a text message to a user
//   - push_flex_message: Push a flex message to a user
//   - broadcast_text_message: Broadcast a text message to all friends
//   - broadcast_flex_message: Broadcast a flex message to all friends
//   - get_profile: Fetch a user's profile
//   - get_message_quota: Fetch the monthly message quota
//
// # Registration
//
//	builtins.RegisterMessagingPack(registry, client, builtins.MessagingDefaults{
//		DestinationUserID: cfg.LINE.DestinationUserID,
//	})
//
// # Destinations
//
// Push and profile tools take an optional userId. When it is omitted the
// configured destination user is used; when neither is set the call fails
// with ErrNoDestination and nothing is sent.
//
// # Results
//
// Handlers return the platform's JSON response unmodified. Platform errors
// are returned as errors and surface to the client as failed tool results.
package builtins
