package chat_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/omochice/tcp-simple/internal/chat"
)

func TestMessage_Encode(t *testing.T) {
	tests := []struct {
		name     string
		msg      chat.Message
		wantType string
	}{
		{
			name:     "encode text message successfully",
			msg:      chat.Message{Type: chat.MessageTypeText, Sender: "user1", Content: "Hello, World!"},
			wantType: "TEXT",
		},
		{
			name:     "encode join message successfully",
			msg:      chat.Message{Type: chat.MessageTypeJoin, Sender: "user2"},
			wantType: "JOIN",
		},
		{
			name:     "encode leave message successfully",
			msg:      chat.Message{Type: chat.MessageTypeLeave, Sender: "user3"},
			wantType: "LEAVE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := tt.msg.Encode()
			if err != nil {
				t.Fatalf("Message.Encode() error = %v", err)
			}

			var envelope map[string]string
			if err := json.Unmarshal([]byte(text), &envelope); err != nil {
				t.Fatalf("envelope %q is not a JSON object: %v", text, err)
			}
			if envelope["type"] != tt.wantType {
				t.Errorf("type = %q, want %q", envelope["type"], tt.wantType)
			}
			if envelope["sender"] != tt.msg.Sender {
				t.Errorf("sender = %q, want %q", envelope["sender"], tt.msg.Sender)
			}
		})
	}
}

func TestMessage_Decode(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    chat.Message
		wantErr bool
	}{
		{
			name: "decode text message",
			text: `{"type":"TEXT","sender":"user1","content":"Hello, World!"}`,
			want: chat.Message{Type: chat.MessageTypeText, Sender: "user1", Content: "Hello, World!"},
		},
		{
			name: "decode join without content",
			text: `{"type":"JOIN","sender":"alice"}`,
			want: chat.Message{Type: chat.MessageTypeJoin, Sender: "alice"},
		},
		{
			name: "unknown type decodes as text",
			text: `{"type":"SHOUT","sender":"bob","content":"hey"}`,
			want: chat.Message{Type: chat.MessageTypeText, Sender: "bob", Content: "hey"},
		},
		{
			name:    "plain text is rejected",
			text:    "hello there",
			wantErr: true,
		},
		{
			name:    "missing sender is rejected",
			text:    `{"type":"TEXT","content":"anonymous"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got chat.Message
			err := got.Decode(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Message.Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Message.Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMessage_DecodeMissingSender(t *testing.T) {
	var msg chat.Message
	if err := msg.Decode(`{"type":"JOIN"}`); !errors.Is(err, chat.ErrMissingSender) {
		t.Errorf("Decode() error = %v, want ErrMissingSender", err)
	}
}

func TestMessage_EncodeDecodeRoundTrip(t *testing.T) {
	original := chat.Message{
		Type:    chat.MessageTypeText,
		Sender:  "testuser",
		Content: "Test message content with \"quotes\" and ünïcode",
	}

	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded chat.Message
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip = %+v, want %+v", decoded, original)
	}
}

func TestMessageType_String(t *testing.T) {
	tests := []struct {
		name string
		mt   chat.MessageType
		want string
	}{
		{"text type", chat.MessageTypeText, "TEXT"},
		{"join type", chat.MessageTypeJoin, "JOIN"},
		{"leave type", chat.MessageTypeLeave, "LEAVE"},
		{"unknown type", chat.MessageType(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mt.String(); got != tt.want {
				t.Errorf("MessageType.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
