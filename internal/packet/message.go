package packet

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// MessageVersion is the wire format version written into every message.
const MessageVersion = "1"

// ErrMalformedMessage is returned when a record cannot be decoded into a packet.
var ErrMalformedMessage = errors.New("malformed message")

// Message is the persisted form of a packet: the session correlation fields,
// the sequence number, the position in milliseconds and the payload.
//
// Payload bytes that form valid UTF-8 travel as "txt"; anything else travels
// base64-encoded as "bin". Both decode to the exact captured bytes.
type Message struct {
	Ver     string `json:"ver"`
	Host    string `json:"host"`
	Rec     string `json:"rec"`
	User    string `json:"user"`
	Term    string `json:"term,omitempty"`
	Session uint32 `json:"session"`
	ID      uint64 `json:"id"`
	Pos     int64  `json:"pos"`
	Type    string `json:"type"`
	Txt     string `json:"txt,omitempty"`
	Bin     string `json:"bin,omitempty"`
	Width   uint16 `json:"width,omitempty"`
	Height  uint16 `json:"height,omitempty"`
}

// NewMessage builds the message for p as the seq-th packet of s.
func NewMessage(s Session, seq uint64, p Packet) Message {
	m := Message{
		Ver:     MessageVersion,
		Host:    s.Host,
		Rec:     s.RecordingID,
		User:    s.User,
		Term:    s.Term,
		Session: s.SessionID,
		ID:      seq,
		Pos:     p.Timestamp.Milliseconds(),
		Type:    p.Channel.Code(),
	}
	switch p.Channel {
	case ChannelWindow:
		m.Width = p.Window.Cols
		m.Height = p.Window.Rows
	default:
		if utf8.Valid(p.Payload) {
			m.Txt = string(p.Payload)
		} else {
			m.Bin = base64.StdEncoding.EncodeToString(p.Payload)
		}
	}
	return m
}

// Packet decodes the message back into a packet.
func (m Message) Packet() (Packet, error) {
	ch, err := ParseChannel(m.Type)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: id %d: %v", ErrMalformedMessage, m.ID, err)
	}
	p := Packet{
		Seq:       m.ID,
		Timestamp: time.Duration(m.Pos) * time.Millisecond,
		Channel:   ch,
	}
	if ch == ChannelWindow {
		p.Window = Window{Cols: m.Width, Rows: m.Height}
		return p, nil
	}
	if m.Txt != "" && m.Bin != "" {
		return Packet{}, fmt.Errorf("%w: id %d: both txt and bin set", ErrMalformedMessage, m.ID)
	}
	if m.Bin != "" {
		b, err := base64.StdEncoding.DecodeString(m.Bin)
		if err != nil {
			return Packet{}, fmt.Errorf("%w: id %d: bad bin payload: %v", ErrMalformedMessage, m.ID, err)
		}
		p.Payload = b
	} else {
		p.Payload = []byte(m.Txt)
	}
	return p, nil
}

// Marshal encodes the message as a single line of JSON without a trailing
// newline.
func (m Message) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalMessage decodes one JSON record and checks its required fields.
func UnmarshalMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Ver == "" {
		return Message{}, fmt.Errorf("%w: missing ver", ErrMalformedMessage)
	}
	if m.Ver != MessageVersion {
		return Message{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedMessage, m.Ver)
	}
	if m.Rec == "" {
		return Message{}, fmt.Errorf("%w: missing rec", ErrMalformedMessage)
	}
	if m.ID == 0 {
		return Message{}, fmt.Errorf("%w: missing id", ErrMalformedMessage)
	}
	return m, nil
}

// SessionInfo returns the correlation identity carried by the message.
func (m Message) SessionInfo() Session {
	return Session{
		Host:        m.Host,
		User:        m.User,
		Term:        m.Term,
		SessionID:   m.Session,
		RecordingID: m.Rec,
	}
}
