// Package logging sets up the process logger shared by every command.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"unicode"
)

// EnvPath names a file that receives a copy of the log.
const EnvPath = "TLOG_LOG_PATH"

var (
	mu   sync.Mutex
	file io.Writer // copy of the log set up by Init, or nil
)

// Init routes the standard logger to stderr and, when path (or
// TLOG_LOG_PATH) is set, to that file as well. The returned function closes
// the file.
func Init(path string, stderr io.Writer) (func() error, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	mu.Lock()
	defer mu.Unlock()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if path == "" {
		file = nil
		log.SetOutput(stderr)
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	file = f
	log.SetOutput(io.MultiWriter(stderr, f))
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		file = nil
		log.SetOutput(stderr)
		return f.Close()
	}, nil
}

// Quiet keeps the log off the terminal until the returned function is
// called. Lines still reach the log file, if there is one. Used while the
// terminal is in raw mode, where stray lines would corrupt the screen.
func Quiet() (restore func()) {
	mu.Lock()
	defer mu.Unlock()
	prev := log.Writer()
	if file != nil {
		log.SetOutput(file)
	} else {
		log.SetOutput(io.Discard)
	}
	return func() {
		mu.Lock()
		defer mu.Unlock()
		log.SetOutput(prev)
	}
}

// Sanitize makes s safe for a single log line: control characters are
// escaped and the result is cut to max runes.
func Sanitize(s string, max int) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if max > 0 && n >= max {
			b.WriteString("...")
			break
		}
		if unicode.IsControl(r) {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
		n++
	}
	return b.String()
}
