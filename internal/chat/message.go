// Package chat implements the chat room spoken by the sample programs on top
// of framed text messages. Each frame carries one JSON envelope.
package chat

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageType represents the type of message
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeJoin
	MessageTypeLeave
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeText:
		return "TEXT"
	case MessageTypeJoin:
		return "JOIN"
	case MessageTypeLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// parseMessageType maps an envelope type name back to MessageType. Unknown
// names decode as text so a newer peer does not break an older one.
func parseMessageType(name string) MessageType {
	switch name {
	case "JOIN":
		return MessageTypeJoin
	case "LEAVE":
		return MessageTypeLeave
	default:
		return MessageTypeText
	}
}

const (
	fieldType    = "type"
	fieldSender  = "sender"
	fieldContent = "content"
)

// ErrMissingSender is returned by Decode for an envelope without a sender.
var ErrMissingSender = errors.New("chat: message has no sender")

// Message represents a chat message
type Message struct {
	Type    MessageType
	Sender  string
	Content string
}

// Encode renders the message as a JSON envelope.
func (m *Message) Encode() (string, error) {
	st, err := structpb.NewStruct(map[string]any{
		fieldType:    m.Type.String(),
		fieldSender:  m.Sender,
		fieldContent: m.Content,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	data, err := protojson.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	return string(data), nil
}

// Decode parses a JSON envelope produced by Encode.
func (m *Message) Decode(text string) error {
	st := &structpb.Struct{}
	if err := protojson.Unmarshal([]byte(text), st); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	fields := st.GetFields()
	sender := fields[fieldSender].GetStringValue()
	if sender == "" {
		return ErrMissingSender
	}
	m.Type = parseMessageType(fields[fieldType].GetStringValue())
	m.Sender = sender
	m.Content = fields[fieldContent].GetStringValue()
	return nil
}
