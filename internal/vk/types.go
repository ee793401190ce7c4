package vk

import (
	"encoding/json"
	"fmt"
)

// Callback API event types handled by the webhook.
const (
	EventConfirmation = "confirmation"
	EventMessageNew   = "message_new"
	EventMessageReply = "message_reply"
)

// Event is the outer envelope of a Callback API delivery.
type Event struct {
	Type    string          `json:"type"`
	GroupID int64           `json:"group_id"`
	EventID string          `json:"event_id"`
	Object  json.RawMessage `json:"object"`
}

// Message is the message payload carried by message_new and message_reply events.
type Message struct {
	ID                    int64  `json:"id"`
	ConversationMessageID int64  `json:"conversation_message_id"`
	PeerID                int64  `json:"peer_id"`
	FromID                int64  `json:"from_id"`
	Text                  string `json:"text"`
}

// User is the sender profile returned by users.get.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ParseMessage extracts the message from an event. message_new nests it under
// object.message since API 5.103; message_reply carries it directly.
func ParseMessage(event Event) (Message, error) {
	switch event.Type {
	case EventMessageNew:
		var wrapped struct {
			Message Message `json:"message"`
		}
		if err := json.Unmarshal(event.Object, &wrapped); err != nil {
			return Message{}, fmt.Errorf("vk: decode message_new object: %w", err)
		}
		if wrapped.Message.PeerID != 0 {
			return wrapped.Message, nil
		}
		// Older API versions put the message at the top level of the object.
		var direct Message
		if err := json.Unmarshal(event.Object, &direct); err != nil {
			return Message{}, fmt.Errorf("vk: decode message_new object: %w", err)
		}
		return direct, nil
	case EventMessageReply:
		var msg Message
		if err := json.Unmarshal(event.Object, &msg); err != nil {
			return Message{}, fmt.Errorf("vk: decode message_reply object: %w", err)
		}
		return msg, nil
	default:
		return Message{}, fmt.Errorf("vk: event type %q carries no message", event.Type)
	}
}
