package writer

import (
	"context"
	"strconv"
	"sync"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/storage"
)

// StoreOptions tunes the entries a StoreWriter emits.
type StoreOptions struct {
	Priority int
	// Augment adds the user, session and host fields. The recording id and
	// entry number are always present.
	Augment bool
}

// StoreWriter emits one structured-log entry per packet.
type StoreWriter struct {
	kind  Kind
	store storage.Store
	sess  packet.Session
	opts  StoreOptions

	mu  sync.Mutex
	seq sequencer
}

// NewStoreWriter wraps store. The writer owns the store and closes it.
func NewStoreWriter(kind Kind, store storage.Store, sess packet.Session, opts StoreOptions) *StoreWriter {
	return &StoreWriter{kind: kind, store: store, sess: sess, opts: opts}
}

// OpenJournal opens a writer on the local systemd journal.
func OpenJournal(cfg JournalConfig, sess packet.Session) (*StoreWriter, error) {
	prio, err := ParsePriority(cfg.Priority)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewJournalStore(storage.JournalConfig{})
	if err != nil {
		return nil, &WriteError{Writer: KindJournal, Err: err}
	}
	return NewStoreWriter(KindJournal, store, sess, StoreOptions{Priority: prio, Augment: cfg.Augment}), nil
}

func (w *StoreWriter) Write(ctx context.Context, p packet.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.seq.next()
	msg, err := packet.NewMessage(w.sess, seq, p).Marshal()
	if err != nil {
		return &WriteError{Writer: w.kind, Seq: seq, Err: err}
	}
	if _, err := w.store.Append(ctx, w.fields(seq, msg)); err != nil {
		return &WriteError{Writer: w.kind, Seq: seq, Err: err}
	}
	w.seq.commit(seq)
	return nil
}

func (w *StoreWriter) fields(seq uint64, msg []byte) map[string]string {
	f := map[string]string{
		storage.FieldRec:      w.sess.RecordingID,
		storage.FieldID:       strconv.FormatUint(seq, 10),
		storage.FieldPriority: strconv.Itoa(w.opts.Priority),
		storage.FieldMessage:  string(msg),
	}
	if w.opts.Augment {
		f[storage.FieldUser] = w.sess.User
		f[storage.FieldSession] = strconv.FormatUint(uint64(w.sess.SessionID), 10)
		f[storage.FieldHost] = w.sess.Host
	}
	return f
}

func (w *StoreWriter) Close() error {
	return w.store.Close()
}
