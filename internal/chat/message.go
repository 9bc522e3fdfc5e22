package chat

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// TypeChat is the only envelope type carried on the chat channel today.
const TypeChat = "chat"

var ErrUnknownType = errors.New("unknown envelope type")

// Message is one chat line.
type Message struct {
	ID     string `msgpack:"id" json:"id"`
	Author string `msgpack:"author" json:"author"`
	Text   string `msgpack:"text" json:"text"`
	TS     int64  `msgpack:"ts" json:"ts"`
}

// NewMessage stamps a fresh id and the current time in unix milliseconds.
func NewMessage(author, text string) Message {
	return Message{
		ID:     uuid.NewString(),
		Author: author,
		Text:   text,
		TS:     time.Now().UnixMilli(),
	}
}

// Envelope frames every data-channel message.
type Envelope struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Encode wraps m in a chat envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := msgpack.Marshal(m)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(Envelope{Type: TypeChat, Payload: payload})
}

// Decode parses a binary msgpack envelope, or a JSON object when isString is
// set (text frames from browser peers).
func Decode(data []byte, isString bool) (Message, error) {
	var m Message
	if isString {
		err := json.Unmarshal(data, &m)
		return m, err
	}

	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return m, err
	}
	if env.Type != TypeChat {
		return m, ErrUnknownType
	}
	err := msgpack.Unmarshal(env.Payload, &m)
	return m, err
}
