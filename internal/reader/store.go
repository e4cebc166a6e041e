package reader

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/storage"
)

// gapPolls is how many refills a follow-mode reader holds entries back
// behind a missing one before releasing them anyway.
const gapPolls = 3

// StoreReader reads one recording out of a shared structured-log store.
// Each refill queries the store for entries stored after the last one seen,
// drops the ones already delivered and sorts the rest by entry number.
type StoreReader struct {
	store  storage.Store
	match  Match
	follow bool

	// cursor is the store position of the newest entry fetched so far.
	cursor    string
	buffered  []packet.Packet
	pending   []packet.Packet
	delivered uint64
	held      int
}

// NewStoreReader reads the recording selected by match. The reader owns the
// store and closes it. A following reader tolerates gaps for a few polls,
// since the recording is still being written.
func NewStoreReader(store storage.Store, match Match, follow bool) *StoreReader {
	return &StoreReader{store: store, match: match, follow: follow}
}

func (r *StoreReader) Next(ctx context.Context) (packet.Packet, error) {
	if len(r.pending) == 0 {
		if err := r.refill(ctx); err != nil {
			return packet.Packet{}, err
		}
	}
	if len(r.pending) == 0 {
		return packet.Packet{}, io.EOF
	}
	p := r.pending[0]
	r.pending = r.pending[1:]
	if p.Seq > r.delivered {
		r.delivered = p.Seq
	}
	return p, nil
}

func (r *StoreReader) refill(ctx context.Context) error {
	entries, err := r.store.Query(ctx, storage.Query{Match: r.match.fields(), After: r.cursor})
	if err != nil {
		return fmt.Errorf("querying recording %s: %w", r.match.Rec, err)
	}

	for _, e := range entries {
		p, err := decodeEntry(e, r.match.Rec)
		if err != nil {
			return err
		}
		r.cursor = e.Cursor
		if p.Seq <= r.delivered {
			continue
		}
		r.buffered = append(r.buffered, p)
	}
	sort.SliceStable(r.buffered, func(i, j int) bool { return r.buffered[i].Seq < r.buffered[j].Seq })

	// Entries forwarded from other hosts may still be in flight. Hold back
	// everything behind a gap for a few polls before letting the validator
	// see it.
	n := len(r.buffered)
	if c := contiguous(r.buffered, r.delivered); r.follow && c < n && r.held < gapPolls {
		r.held++
		n = c
	} else {
		r.held = 0
	}
	r.pending = r.buffered[:n:n]
	r.buffered = append([]packet.Packet(nil), r.buffered[n:]...)
	return nil
}

// contiguous returns the length of the prefix of ps numbered after+1,
// after+2, ...
func contiguous(ps []packet.Packet, after uint64) int {
	next := after + 1
	for i, p := range ps {
		if p.Seq != next {
			if p.Seq < next {
				// Duplicate; leave it for the validator.
				continue
			}
			return i
		}
		next++
	}
	return len(ps)
}

func decodeEntry(e storage.Entry, rec string) (packet.Packet, error) {
	m, err := packet.UnmarshalMessage([]byte(e.Fields[storage.FieldMessage]))
	if err != nil {
		return packet.Packet{}, fmt.Errorf("entry %s: %w", e.Cursor, err)
	}
	if m.Rec != rec {
		return packet.Packet{}, fmt.Errorf("entry %s: %w: message belongs to recording %q", e.Cursor, packet.ErrMalformedMessage, m.Rec)
	}
	if id, ok := e.Fields[storage.FieldID]; ok && id != strconv.FormatUint(m.ID, 10) {
		return packet.Packet{}, fmt.Errorf("entry %s: %w: field id %s does not match message id %d", e.Cursor, packet.ErrMalformedMessage, id, m.ID)
	}
	return m.Packet()
}

func (r *StoreReader) Close() error {
	return r.store.Close()
}
