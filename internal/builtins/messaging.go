// ABOUTME: Messaging pack: push, broadcast, profile and quota tools backed by the LINE API.
// ABOUTME: Handlers relay the platform's JSON response unmodified.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/coven-line/internal/packs"
)

// MessagingPackID identifies the messaging pack in the registry.
const MessagingPackID = "builtin:messaging"

// ErrNoDestination indicates neither the call nor the config named a recipient.
var ErrNoDestination = errors.New("userId is required: no destination user is configured")

// MessagingClient is the subset of the LINE API client the pack uses.
type MessagingClient interface {
	PushMessage(ctx context.Context, to string, messages ...json.RawMessage) (json.RawMessage, error)
	Broadcast(ctx context.Context, messages ...json.RawMessage) (json.RawMessage, error)
	GetProfile(ctx context.Context, userID string) (json.RawMessage, error)
	GetMessageQuota(ctx context.Context) (json.RawMessage, error)
}

// MessagingDefaults carries values applied when a call omits them.
type MessagingDefaults struct {
	DestinationUserID string
}

const (
	textMessageSchema = `{
		"type": "object",
		"properties": {
			"type": {"const": "text"},
			"text": {"type": "string", "minLength": 1, "maxLength": 5000}
		},
		"required": ["type", "text"]
	}`

	flexMessageSchema = `{
		"type": "object",
		"properties": {
			"type": {"const": "flex"},
			"altText": {"type": "string", "minLength": 1, "maxLength": 400},
			"contents": {
				"type": "object",
				"properties": {
					"type": {"enum": ["bubble", "carousel"]}
				},
				"required": ["type"]
			}
		},
		"required": ["type", "altText", "contents"]
	}`

	userIDSchema = `{"type": "string", "minLength": 1, "description": "Recipient user ID. Defaults to the configured destination user."}`
)

func pushSchema(message string) json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"userId":` + userIDSchema + `,"message":` + message + `},"required":["message"]}`)
}

func broadcastSchema(message string) json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"message":` + message + `},"required":["message"]}`)
}

// MessagingPack creates the messaging pack.
func MessagingPack(client MessagingClient, defaults MessagingDefaults) *packs.BuiltinPack {
	m := &messagingHandlers{client: client, defaults: defaults}
	return &packs.BuiltinPack{
		ID: MessagingPackID,
		Tools: []*packs.BuiltinTool{
			{
				Definition: packs.ToolDefinition{
					Name:        "push_text_message",
					Description: "Push a simple text message to a user via LINE",
					InputSchema: pushSchema(textMessageSchema),
				},
				Handler: m.PushMessage,
			},
			{
				Definition: packs.ToolDefinition{
					Name:        "push_flex_message",
					Description: "Push a highly customizable flex message to a user via LINE",
					InputSchema: pushSchema(flexMessageSchema),
				},
				Handler: m.PushMessage,
			},
			{
				Definition: packs.ToolDefinition{
					Name:        "broadcast_text_message",
					Description: "Broadcast a simple text message to every user who has added the bot",
					InputSchema: broadcastSchema(textMessageSchema),
				},
				Handler: m.Broadcast,
			},
			{
				Definition: packs.ToolDefinition{
					Name:        "broadcast_flex_message",
					Description: "Broadcast a flex message to every user who has added the bot",
					InputSchema: broadcastSchema(flexMessageSchema),
				},
				Handler: m.Broadcast,
			},
			{
				Definition: packs.ToolDefinition{
					Name:        "get_profile",
					Description: "Get detailed profile information of a LINE user including display name, profile picture URL, status message and language",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"userId":` + userIDSchema + `}}`),
				},
				Handler: m.GetProfile,
			},
			{
				Definition: packs.ToolDefinition{
					Name:        "get_message_quota",
					Description: "Get the monthly message quota and how much of it has been used",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				},
				Handler: m.GetMessageQuota,
			},
		},
	}
}

// RegisterMessagingPack builds the messaging pack and adds it to the registry.
func RegisterMessagingPack(registry *packs.Registry, client MessagingClient, defaults MessagingDefaults) error {
	return registry.RegisterBuiltinPack(MessagingPack(client, defaults))
}

type messagingHandlers struct {
	client   MessagingClient
	defaults MessagingDefaults
}

type sendInput struct {
	UserID  string          `json:"userId"`
	Message json.RawMessage `json:"message"`
}

type profileInput struct {
	UserID string `json:"userId"`
}

func (m *messagingHandlers) destination(userID string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	if m.defaults.DestinationUserID != "" {
		return m.defaults.DestinationUserID, nil
	}
	return "", ErrNoDestination
}

func (m *messagingHandlers) PushMessage(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in sendInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	to, err := m.destination(in.UserID)
	if err != nil {
		return nil, err
	}
	return m.client.PushMessage(ctx, to, in.Message)
}

func (m *messagingHandlers) Broadcast(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in sendInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	return m.client.Broadcast(ctx, in.Message)
}

func (m *messagingHandlers) GetProfile(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in profileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	userID, err := m.destination(in.UserID)
	if err != nil {
		return nil, err
	}
	return m.client.GetProfile(ctx, userID)
}

func (m *messagingHandlers) GetMessageQuota(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return m.client.GetMessageQuota(ctx)
}
