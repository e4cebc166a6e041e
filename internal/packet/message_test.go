package packet

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

var testSession = Session{
	Host:        "build-01",
	User:        "alice",
	Term:        "xterm-256color",
	SessionID:   42,
	RecordingID: "0f0e8a4c-7d1b-4c4e-9a57-2b0c1b4b9e11",
}

func TestNewMessage_TextPayload(t *testing.T) {
	p := Packet{Timestamp: 1500 * time.Millisecond, Channel: ChannelOutput, Payload: []byte("ls -la\r\n")}
	m := NewMessage(testSession, 7, p)

	if m.Ver != MessageVersion || m.ID != 7 || m.Pos != 1500 || m.Type != "o" {
		t.Fatalf("unexpected header fields: %+v", m)
	}
	if m.Txt != "ls -la\r\n" || m.Bin != "" {
		t.Errorf("txt/bin = %q/%q, want text payload", m.Txt, m.Bin)
	}
	if m.Rec != testSession.RecordingID || m.User != "alice" || m.Session != 42 {
		t.Errorf("session fields not copied: %+v", m)
	}
}

func TestNewMessage_BinaryPayloadRoundTrip(t *testing.T) {
	raw := []byte{0x1b, '[', 'H', 0xff, 0xfe, 0x00, 'x'}
	p := Packet{Timestamp: time.Second, Channel: ChannelInput, Payload: raw}
	m := NewMessage(testSession, 1, p)
	if m.Bin == "" || m.Txt != "" {
		t.Fatalf("invalid UTF-8 should be carried as bin, got %+v", m)
	}

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	back, err := UnmarshalMessage(data)
	if err != nil {
		t.Fatalf("UnmarshalMessage() error = %v", err)
	}
	got, err := back.Packet()
	if err != nil {
		t.Fatalf("Packet() error = %v", err)
	}
	if !bytes.Equal(got.Payload, raw) {
		t.Errorf("payload = %v, want %v", got.Payload, raw)
	}
	if got.Channel != ChannelInput || got.Seq != 1 || got.Timestamp != time.Second {
		t.Errorf("decoded packet = %v", got)
	}
}

func TestMessage_WindowRoundTrip(t *testing.T) {
	m := NewMessage(testSession, 3, NewWindow(250*time.Millisecond, 132, 43))
	if m.Width != 132 || m.Height != 43 || m.Type != "w" {
		t.Fatalf("window fields = %+v", m)
	}
	p, err := m.Packet()
	if err != nil {
		t.Fatalf("Packet() error = %v", err)
	}
	if p.Window != (Window{Cols: 132, Rows: 43}) || p.Payload != nil {
		t.Errorf("decoded window packet = %+v", p)
	}
}

func TestMessage_MarshalIsSingleLine(t *testing.T) {
	p := Packet{Channel: ChannelOutput, Payload: []byte("line1\nline2 <b>&</b>\n")}
	data, err := NewMessage(testSession, 1, p).Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if bytes.ContainsRune(data, '\n') {
		t.Errorf("marshaled message contains a raw newline: %s", data)
	}
	if !strings.Contains(string(data), "<b>&</b>") {
		t.Errorf("HTML characters were escaped: %s", data)
	}
}

func TestUnmarshalMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `{"ver":`},
		{"missing ver", `{"rec":"r","id":1,"type":"o"}`},
		{"wrong version", `{"ver":"9","rec":"r","id":1,"type":"o"}`},
		{"missing rec", `{"ver":"1","id":1,"type":"o"}`},
		{"missing id", `{"ver":"1","rec":"r","type":"o"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalMessage([]byte(tt.in)); !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("UnmarshalMessage() error = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestMessage_PacketRejectsBadPayloads(t *testing.T) {
	bad := []Message{
		{Ver: "1", Rec: "r", ID: 1, Type: "z"},
		{Ver: "1", Rec: "r", ID: 1, Type: "o", Bin: "!!!not-base64"},
		{Ver: "1", Rec: "r", ID: 1, Type: "o", Txt: "a", Bin: "YQ=="},
	}
	for _, m := range bad {
		if _, err := m.Packet(); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("Packet(%+v) error = %v, want ErrMalformedMessage", m, err)
		}
	}
}

func TestChannel_ParseAndCode(t *testing.T) {
	for _, c := range []Channel{ChannelInput, ChannelOutput, ChannelWindow} {
		got, err := ParseChannel(c.Code())
		if err != nil || got != c {
			t.Errorf("ParseChannel(%q) = %v, %v", c.Code(), got, err)
		}
		got, err = ParseChannel(c.String())
		if err != nil || got != c {
			t.Errorf("ParseChannel(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseChannel("x"); err == nil {
		t.Error("ParseChannel(x) should fail")
	}
}

func TestSession_Validate(t *testing.T) {
	if err := testSession.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (Session{}).Validate(); err == nil {
		t.Error("empty session should not validate")
	}
}

func TestPacket_CloneIsDeep(t *testing.T) {
	p := Packet{Channel: ChannelOutput, Payload: []byte("abc")}
	c := p.Clone()
	c.Payload[0] = 'x'
	if string(p.Payload) != "abc" {
		t.Errorf("Clone() shares payload storage")
	}
}
