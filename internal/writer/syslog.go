package writer

import (
	"context"
	"log/syslog"
	"sync"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

const defaultSyslogTag = "tlog"

// SyslogWriter sends one message per packet to a syslog daemon.
type SyslogWriter struct {
	mu   sync.Mutex
	w    *syslog.Writer
	sess packet.Session
	seq  sequencer
}

// OpenSyslog dials the configured daemon with the configured facility and
// severity.
func OpenSyslog(cfg SyslogConfig, sess packet.Session) (*SyslogWriter, error) {
	fac, err := ParseFacility(cfg.Facility)
	if err != nil {
		return nil, err
	}
	sev, err := ParsePriority(cfg.Priority)
	if err != nil {
		return nil, err
	}
	tag := cfg.Tag
	if tag == "" {
		tag = defaultSyslogTag
	}
	w, err := syslog.Dial(cfg.Network, cfg.Address, syslog.Priority(fac<<3|sev), tag)
	if err != nil {
		return nil, &WriteError{Writer: KindSyslog, Err: err}
	}
	return &SyslogWriter{w: w, sess: sess}, nil
}

func (w *SyslogWriter) Write(_ context.Context, p packet.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.seq.next()
	msg, err := packet.NewMessage(w.sess, seq, p).Marshal()
	if err != nil {
		return &WriteError{Writer: KindSyslog, Seq: seq, Err: err}
	}
	if _, err := w.w.Write(msg); err != nil {
		return &WriteError{Writer: KindSyslog, Seq: seq, Err: err}
	}
	w.seq.commit(seq)
	return nil
}

func (w *SyslogWriter) Close() error {
	return w.w.Close()
}
