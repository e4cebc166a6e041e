// Package player plays tlog recordings back to any io.Writer.
package player

import (
	"io"

	"github.com/SmitUplenchwar2687/tlog/internal/player"
	"github.com/SmitUplenchwar2687/tlog/pkg/clock"
	"github.com/SmitUplenchwar2687/tlog/pkg/recording"
)

// Config holds playback parameters.
type Config = player.Config

// Player replays one recording.
type Player = player.Player

// State is the playback state.
type State = player.State

// Target is a seek destination.
type Target = player.Target

// Control is an interactive playback command.
type Control = player.Control

// Speed bounds for interactive speed changes.
const (
	MinSpeed = player.MinSpeed
	MaxSpeed = player.MaxSpeed
)

// ParseTarget parses "start", "end" or an offset such as "1:30".
func ParseTarget(s string) (Target, error) {
	return player.ParseTarget(s)
}

// New creates a player reading src and rendering to out. controls may be
// nil for non-interactive playback.
func New(cfg Config, src recording.Reader, out io.Writer, clk clock.Clock, controls <-chan Control) (*Player, error) {
	return player.New(cfg, src, out, clk, controls)
}
