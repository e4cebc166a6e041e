package simulate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/limiter"
	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

type sliceReader struct {
	ps  []packet.Packet
	err error
}

func (r *sliceReader) Next(context.Context) (packet.Packet, error) {
	if len(r.ps) == 0 {
		if r.err != nil {
			return packet.Packet{}, r.err
		}
		return packet.Packet{}, io.EOF
	}
	p := r.ps[0]
	r.ps = r.ps[1:]
	return p, nil
}

func (r *sliceReader) Close() error { return nil }

func output(at time.Duration, n int) packet.Packet {
	return packet.Packet{Timestamp: at, Channel: packet.ChannelOutput, Payload: bytes.Repeat([]byte("x"), n)}
}

func limit(action limiter.Action) limiter.Config {
	return limiter.Config{Rate: 10, Burst: 10, Action: action}
}

func TestRun_UnderTheLimit(t *testing.T) {
	r := &sliceReader{ps: []packet.Packet{output(0, 10), output(time.Second, 10), output(2*time.Second, 10)}}
	res, err := Run(context.Background(), r, Config{Limit: limit(limiter.ActionDrop)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Packets != 3 || res.PassedBytes != 30 || res.Exceeded != 0 {
		t.Errorf("result = %+v, want everything logged", res)
	}
	if res.Duration != "2s" {
		t.Errorf("duration = %q, want 2s", res.Duration)
	}
}

func TestRun_Drop(t *testing.T) {
	r := &sliceReader{ps: []packet.Packet{output(0, 10), output(0, 10), output(time.Second, 10)}}
	res, err := Run(context.Background(), r, Config{Limit: limit(limiter.ActionDrop), Trace: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.DroppedPackets != 1 || res.DroppedBytes != 10 || res.PassedBytes != 20 {
		t.Errorf("result = %+v, want the second packet dropped", res)
	}
	if len(res.Events) != 3 || res.Events[1].Outcome != "drop" || res.Events[2].Outcome != "pass" {
		t.Errorf("events = %+v", res.Events)
	}
}

func TestRun_DelayHoldsBackLaterPackets(t *testing.T) {
	r := &sliceReader{ps: []packet.Packet{output(0, 10), output(0, 10), output(500*time.Millisecond, 10)}}
	res, err := Run(context.Background(), r, Config{Limit: limit(limiter.ActionDelay), Trace: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.PassedBytes != 30 || res.DroppedPackets != 0 {
		t.Errorf("delay must keep everything: %+v", res)
	}
	if res.DelayedPackets != 2 || res.TotalDelay != 2*time.Second {
		t.Errorf("delayed = %d for %s, want 2 for 2s", res.DelayedPackets, res.TotalDelay)
	}
	// The third packet waits for the second, then for its own bytes.
	if res.MaxLag != 1500*time.Millisecond {
		t.Errorf("max lag = %s, want 1.5s", res.MaxLag)
	}
	if res.Events[2].Outcome != "delay" {
		t.Errorf("third outcome = %q, want delay", res.Events[2].Outcome)
	}
}

func TestRun_PassIsAdvisory(t *testing.T) {
	r := &sliceReader{ps: []packet.Packet{output(0, 50), output(0, 50)}}
	res, err := Run(context.Background(), r, Config{Limit: limit(limiter.ActionPass)})
	if err != nil {
		t.Fatal(err)
	}
	// An oversize packet is admitted by a full bucket; the second finds it
	// empty.
	if res.PassedBytes != 100 || res.Exceeded != 1 || res.TotalDelay != 0 {
		t.Errorf("result = %+v, want both logged and one over the limit", res)
	}
}

func TestRun_SkipsWindowPackets(t *testing.T) {
	r := &sliceReader{ps: []packet.Packet{packet.NewWindow(0, 80, 24), output(time.Second, 5), packet.NewWindow(3*time.Second, 100, 30)}}
	res, err := Run(context.Background(), r, Config{Limit: limit(limiter.ActionDrop)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Packets != 1 || res.Bytes != 5 {
		t.Errorf("result = %+v, want only the output packet", res)
	}
	if res.Duration != "3s" {
		t.Errorf("duration = %q, want the full recording length", res.Duration)
	}
}

func TestRun_Errors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), &sliceReader{err: boom}, Config{Limit: limit(limiter.ActionDrop)})
	if !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want the reader error", err)
	}

	_, err = Run(context.Background(), &sliceReader{}, Config{Limit: limiter.Config{Rate: 0, Action: limiter.ActionDrop}})
	if err == nil {
		t.Error("expected error for a zero rate")
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	Summary(&buf, Result{Rate: 10, Burst: 10, Action: "drop", Packets: 2, DroppedPackets: 1, Events: []Event{{Channel: "output", Bytes: 3, Outcome: "pass"}}})
	out := buf.String()
	for _, want := range []string{"rate=10 B/s", "dropped:  1 packets", "#0001"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
