package player

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TargetKind selects where a seek goes.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetStart
	TargetEnd
	TargetOffset
)

// Target is a seek destination.
type Target struct {
	Kind   TargetKind
	Offset time.Duration // TargetOffset only
}

func (t Target) String() string {
	switch t.Kind {
	case TargetStart:
		return "start"
	case TargetEnd:
		return "end"
	case TargetOffset:
		return FormatOffset(t.Offset)
	default:
		return ""
	}
}

// ParseTarget parses "start", "end", a clock offset such as "1:02:03",
// "2:30" or "90.5", or a Go duration such as "1m30s".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return Target{}, nil
	case "start":
		return Target{Kind: TargetStart}, nil
	case "end":
		return Target{Kind: TargetEnd}, nil
	}
	d, err := ParseOffset(s)
	if err != nil {
		return Target{}, err
	}
	return Target{Kind: TargetOffset, Offset: d}, nil
}

// maxOffsetSeconds is the largest offset a time.Duration can hold.
const maxOffsetSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseOffset parses "[[HH:]MM:]SS[.fff]" or a Go duration.
func ParseOffset(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil && strings.ContainsAny(s, "hmsuµn") {
		if d < 0 {
			return 0, fmt.Errorf("negative offset %q", s)
		}
		return d, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	var secs float64
	for i, part := range parts {
		if part == "" {
			return 0, fmt.Errorf("invalid offset %q", s)
		}
		var v float64
		if i == len(parts)-1 {
			f, err := strconv.ParseFloat(part, 64)
			if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
				return 0, fmt.Errorf("invalid offset %q", s)
			}
			v = f
		} else {
			n, err := strconv.ParseUint(part, 10, 32)
			if err != nil {
				return 0, fmt.Errorf("invalid offset %q", s)
			}
			v = float64(n)
		}
		secs = secs*60 + v
	}
	if secs >= maxOffsetSeconds {
		return 0, fmt.Errorf("offset %q out of range", s)
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}

// FormatOffset renders d as HH:MM:SS.mmm.
func FormatOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}
