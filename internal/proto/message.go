package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"pulsar/internal/crypto"
)

const (
	MsgTypeMessage = "message"

	// MaxMessageSize is the largest encoded message that still fits in one
	// DATA datagram after sealing.
	MaxMessageSize = MaxDatagramSize - 1 - crypto.KeySize - crypto.Overhead
)

// Message is the application payload carried by DATA datagrams.
type Message struct {
	Type   string `json:"type"`
	Topic  string `json:"topic,omitempty"`
	Body   []byte `json:"body"`
	SentAt int64  `json:"sent_at,omitempty"`
}

func NewMessage(topic string, body []byte) Message {
	return Message{
		Type:   MsgTypeMessage,
		Topic:  topic,
		Body:   body,
		SentAt: time.Now().Unix(),
	}
}

func EncodeMessage(m Message) ([]byte, error) {
	if m.Type == "" {
		m.Type = MsgTypeMessage
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: message %d bytes", ErrTooLarge, len(data))
	}
	return data, nil
}

func DecodeMessage(data []byte) (Message, error) {
	if len(data) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: message %d bytes", ErrTooLarge, len(data))
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if m.Type != "" && m.Type != MsgTypeMessage {
		return Message{}, fmt.Errorf("unexpected msg type: %s", m.Type)
	}
	return m, nil
}
