package player

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/pkg/clock"
	"github.com/SmitUplenchwar2687/tlog/pkg/recording"
)

func TestPlayToEnd(t *testing.T) {
	sess := recording.Session{Host: "h", User: "u", Term: "xterm", RecordingID: "r", Started: time.Now()}
	var data []byte
	for i, p := range []recording.Packet{
		{Timestamp: 0, Channel: recording.ChannelOutput, Payload: []byte("one ")},
		{Timestamp: time.Hour, Channel: recording.ChannelOutput, Payload: []byte("two")},
	} {
		line, err := packet.NewMessage(sess, uint64(i+1), p).Marshal()
		if err != nil {
			t.Fatal(err)
		}
		data = append(append(data, line...), '\n')
	}
	path := filepath.Join(t.TempDir(), "rec.log")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := recording.Open(path, recording.Options{})
	if err != nil {
		t.Fatal(err)
	}
	target, err := ParseTarget("end")
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	p, err := New(Config{Speed: 1, Goto: target}, src, &out, clock.NewVirtualClock(time.Now()), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.String() != "one two" {
		t.Fatalf("output = %q, want %q", out.String(), "one two")
	}
}
