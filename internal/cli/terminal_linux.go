package cli

import (
	"golang.org/x/sys/unix"
)

// playbackTermios returns t switched to the raw mode playback needs. Signal
// generation stays on so ctrl-C interrupts playback, unless persist asks
// for a session that cannot be quit.
func playbackTermios(t unix.Termios, persist bool) unix.Termios {
	lflag := uint32(unix.ICANON | unix.IEXTEN | unix.ECHO)
	if persist {
		lflag |= unix.ISIG
	}
	t.Lflag &^= lflag
	t.Iflag &^= unix.BRKINT | unix.ICRNL | unix.IGNBRK | unix.IGNCR | unix.INLCR |
		unix.INPCK | unix.ISTRIP | unix.IXON | unix.PARMRK
	t.Oflag &^= unix.OPOST
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return t
}

// makePlaybackRaw puts the terminal on fd into playback mode and returns a
// function restoring the previous mode.
func makePlaybackRaw(fd int, persist bool) (func() error, error) {
	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	raw := playbackTermios(*old, persist)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return nil, err
	}
	return func() error { return unix.IoctlSetTermios(fd, unix.TCSETS, old) }, nil
}
