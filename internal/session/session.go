// Package session resolves the identity of the login session being recorded
// and guards it against nested recording.
package session

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

// SessionIDPath is where the kernel exposes the audit session of a process.
const SessionIDPath = "/proc/self/sessionid"

// unsetSessionID is what the kernel reports for a process outside any audit
// session.
const unsetSessionID = 4294967295

// ErrNoSession is returned when the process has no audit session.
var ErrNoSession = errors.New("process has no audit session")

// Detect builds the identity of the current process's session. The result
// is captured once and handed to the writer; later changes to the host name
// or environment do not affect a running recording.
func Detect(now time.Time) (packet.Session, error) {
	host, err := os.Hostname()
	if err != nil {
		return packet.Session{}, fmt.Errorf("reading host name: %w", err)
	}
	u, err := user.Current()
	if err != nil {
		return packet.Session{}, fmt.Errorf("looking up current user: %w", err)
	}
	id, err := ReadSessionID(SessionIDPath)
	if err != nil && !errors.Is(err, ErrNoSession) && !errors.Is(err, os.ErrNotExist) {
		return packet.Session{}, err
	}
	return packet.Session{
		Host:        host,
		User:        u.Username,
		Term:        os.Getenv("TERM"),
		SessionID:   id,
		RecordingID: uuid.NewString(),
		Started:     now,
	}, nil
}

// ReadSessionID parses an audit session id file.
func ReadSessionID(path string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	if n == unsetSessionID {
		return 0, ErrNoSession
	}
	if n > uint64(^uint32(0)) {
		return 0, fmt.Errorf("session id %d out of range", n)
	}
	return uint32(n), nil
}
