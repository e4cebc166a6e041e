package packet

import (
	"errors"
	"time"
)

// Session is the identity shared by every packet of one recording. It is
// built once when capture starts and handed to the writer, so emission never
// consults ambient process state.
type Session struct {
	Host        string    `json:"host"`
	User        string    `json:"user"`
	Term        string    `json:"term"`
	SessionID   uint32    `json:"session"`
	RecordingID string    `json:"rec"`
	Started     time.Time `json:"started"`
}

// Validate checks the fields required to correlate entries in a shared store.
func (s Session) Validate() error {
	var errs []error
	if s.RecordingID == "" {
		errs = append(errs, errors.New("recording id is required"))
	}
	if s.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if s.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	return errors.Join(errs...)
}
