//go:build !linux

package cli

import "golang.org/x/term"

// makePlaybackRaw puts the terminal on fd into raw mode and returns a
// function restoring the previous mode. Signal generation is off here, so
// ctrl-C reaches the key decoder as a quit key instead.
func makePlaybackRaw(fd int, persist bool) (func() error, error) {
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error { return term.Restore(fd, old) }, nil
}
