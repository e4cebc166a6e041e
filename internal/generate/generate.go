// Package generate builds deterministic synthetic recordings for exercising
// the player, the readers and limit simulations.
package generate

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/writer"
)

const (
	// PatternSteady spaces output evenly.
	PatternSteady = "steady"
	// PatternBurst clusters output into bursts with quiet gaps.
	PatternBurst = "burst"
	// PatternRamp makes output denser as the recording goes on.
	PatternRamp = "ramp"
)

var words = []string{
	"build", "cache", "deploy", "error", "fetch", "git", "kernel", "log",
	"make", "node", "ok", "pull", "query", "retry", "sync", "test",
}

// Options controls the generated recording.
type Options struct {
	Count    int           // output packets, not counting the window packets
	Duration time.Duration // recording length
	Pattern  string
	Payload  int // max payload bytes per packet
	Cols     uint16
	Rows     uint16
	// Resizes adds window changes spread over the recording.
	Resizes int
	Seed    int64
}

// DefaultOptions returns the defaults of the generate command.
func DefaultOptions() Options {
	return Options{
		Count:    100,
		Duration: time.Minute,
		Pattern:  PatternSteady,
		Payload:  2048,
		Cols:     80,
		Rows:     24,
		Seed:     1,
	}
}

// Packets returns the recording described by opts in timestamp order. The
// same options always give the same packets.
func Packets(opts Options) ([]packet.Packet, error) {
	if opts.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", opts.Count)
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", opts.Duration)
	}
	if opts.Payload <= 0 {
		return nil, fmt.Errorf("payload must be positive, got %d", opts.Payload)
	}
	if opts.Cols == 0 || opts.Rows == 0 {
		return nil, fmt.Errorf("window must not be empty, got %dx%d", opts.Cols, opts.Rows)
	}
	if opts.Resizes < 0 {
		return nil, fmt.Errorf("resizes must not be negative, got %d", opts.Resizes)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var times []time.Duration
	switch opts.Pattern {
	case PatternBurst:
		times = burst(rng, opts.Count, opts.Duration)
	case PatternRamp:
		times = ramp(opts.Count, opts.Duration)
	case PatternSteady, "":
		times = steady(opts.Count, opts.Duration)
	default:
		return nil, fmt.Errorf("unknown pattern %q, must be one of: steady, burst, ramp", opts.Pattern)
	}

	pkts := []packet.Packet{packet.NewWindow(0, opts.Cols, opts.Rows)}
	for i, ts := range times {
		for _, chunk := range split(line(rng, i+1), opts.Payload) {
			pkts = append(pkts, packet.Packet{Timestamp: ts, Channel: packet.ChannelOutput, Payload: chunk})
		}
	}
	for i := 1; i <= opts.Resizes; i++ {
		ts := opts.Duration * time.Duration(i) / time.Duration(opts.Resizes+1)
		cols := opts.Cols + uint16(rng.Intn(40))
		rows := opts.Rows + uint16(rng.Intn(10))
		pkts = append(pkts, packet.NewWindow(ts, cols, rows))
	}
	sort.SliceStable(pkts, func(i, j int) bool { return pkts[i].Timestamp < pkts[j].Timestamp })
	return pkts, nil
}

// Session returns a synthetic identity for a generated recording.
func Session(now time.Time) packet.Session {
	return packet.Session{
		Host:        "generated",
		User:        "tlog",
		Term:        "xterm",
		RecordingID: uuid.NewString(),
		Started:     now,
	}
}

// Write sends pkts to w in order. It stops at the first failed write.
func Write(ctx context.Context, w writer.Writer, pkts []packet.Packet) error {
	for i, p := range pkts {
		if err := w.Write(ctx, p); err != nil {
			return fmt.Errorf("writing packet %d: %w", i+1, err)
		}
	}
	return nil
}

func steady(count int, dur time.Duration) []time.Duration {
	interval := dur / time.Duration(count)
	times := make([]time.Duration, count)
	for i := range times {
		times[i] = time.Duration(i) * interval
	}
	return times
}

func burst(rng *rand.Rand, count int, dur time.Duration) []time.Duration {
	numBursts := 4
	burstGap := dur / time.Duration(numBursts)
	times := make([]time.Duration, 0, count)
	for i := 0; i < count; i++ {
		b := i * numBursts / count
		offset := time.Duration(rng.Intn(1000)) * time.Millisecond
		if offset >= burstGap {
			offset = 0
		}
		times = append(times, time.Duration(b)*burstGap+offset)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times
}

func ramp(count int, dur time.Duration) []time.Duration {
	times := make([]time.Duration, count)
	for i := range times {
		frac := float64(i) / float64(count)
		times[i] = time.Duration(frac * frac * float64(dur))
	}
	return times
}

func line(rng *rand.Rand, n int) []byte {
	b := []byte(fmt.Sprintf("\x1b[32m%04d\x1b[0m", n))
	for i := 0; i < 1+rng.Intn(8); i++ {
		b = append(b, ' ')
		b = append(b, words[rng.Intn(len(words))]...)
	}
	return append(b, '\r', '\n')
}

// split cuts b into chunks of at most max bytes, never between the CR and
// LF of a line ending.
func split(b []byte, max int) [][]byte {
	var out [][]byte
	for len(b) > max {
		n := max
		if n > 1 && b[n-1] == '\r' && b[n] == '\n' {
			n--
		}
		out = append(out, b[:n])
		b = b[n:]
	}
	return append(out, b)
}
