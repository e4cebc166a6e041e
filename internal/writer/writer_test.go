package writer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/tlog/internal/clock"
	"github.com/SmitUplenchwar2687/tlog/internal/packet"
	"github.com/SmitUplenchwar2687/tlog/internal/storage"
)

var (
	ctx  = context.Background()
	sess = packet.Session{
		Host:        "host-1",
		User:        "alice",
		Term:        "xterm",
		SessionID:   9,
		RecordingID: "rec-1",
	}
)

func outputPacket(ts time.Duration, payload string) packet.Packet {
	return packet.Packet{Timestamp: ts, Channel: packet.ChannelOutput, Payload: []byte(payload)}
}

func TestFileWriter_AppendsSequencedMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.log")
	w, err := OpenFile(path, sess)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}

	payloads := []string{"plain\r\n", "\x00nul\x00", "ünïcödé ✓", "\xff\xfe raw"}
	for i, p := range payloads {
		if err := w.Write(ctx, outputPacket(time.Duration(i)*time.Second, p)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Write(ctx, packet.NewWindow(5*time.Second, 80, 24)); err != nil {
		t.Fatalf("Write(window) error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []packet.Packet
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m, err := packet.UnmarshalMessage(sc.Bytes())
		if err != nil {
			t.Fatalf("UnmarshalMessage() error = %v", err)
		}
		if m.Rec != "rec-1" || m.User != "alice" || m.Host != "host-1" {
			t.Errorf("session fields = %+v", m)
		}
		p, err := m.Packet()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, p)
	}

	if len(got) != len(payloads)+1 {
		t.Fatalf("read %d packets, want %d", len(got), len(payloads)+1)
	}
	for i, p := range got {
		if p.Seq != uint64(i+1) {
			t.Errorf("packet %d seq = %d, want %d", i, p.Seq, i+1)
		}
		if i < len(payloads) && !bytes.Equal(p.Payload, []byte(payloads[i])) {
			t.Errorf("packet %d payload = %q, want %q", i, p.Payload, payloads[i])
		}
	}
	if got[len(got)-1].Window != (packet.Window{Cols: 80, Rows: 24}) {
		t.Errorf("window packet = %+v", got[len(got)-1])
	}
}

func TestOpenFile_UnwritableParent(t *testing.T) {
	dir := t.TempDir()
	notADir := filepath.Join(dir, "plain")
	if err := os.WriteFile(notADir, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := OpenFile(filepath.Join(notADir, "rec.log"), sess)
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		t.Fatalf("OpenFile() error = %v, want *fs.PathError", err)
	}
	var werr *WriteError
	if !errors.As(err, &werr) || werr.Writer != KindFile {
		t.Errorf("OpenFile() error = %v, want WriteError from file writer", err)
	}
}

func TestStoreWriter_Fields(t *testing.T) {
	store := storage.NewMemoryStore(clock.NewRealClock())
	w := NewStoreWriter(KindJournal, store, sess, StoreOptions{Priority: PriorityErr, Augment: true})

	if err := w.Write(ctx, outputPacket(0, "a")); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(ctx, outputPacket(time.Second, "b")); err != nil {
		t.Fatal(err)
	}

	entries, err := store.Query(ctx, storage.Query{Match: map[string]string{storage.FieldRec: "rec-1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("stored %d entries, want 2", len(entries))
	}
	e := entries[1].Fields
	want := map[string]string{
		storage.FieldID:       "2",
		storage.FieldPriority: "3",
		storage.FieldUser:     "alice",
		storage.FieldSession:  "9",
		storage.FieldHost:     "host-1",
	}
	for k, v := range want {
		if e[k] != v {
			t.Errorf("field %s = %q, want %q", k, e[k], v)
		}
	}
	m, err := packet.UnmarshalMessage([]byte(e[storage.FieldMessage]))
	if err != nil || m.ID != 2 || m.Txt != "b" {
		t.Errorf("MESSAGE = %+v, %v", m, err)
	}
}

func TestStoreWriter_WithoutAugment(t *testing.T) {
	store := storage.NewMemoryStore(clock.NewRealClock())
	w := NewStoreWriter(KindJournal, store, sess, StoreOptions{Priority: PriorityInfo})
	if err := w.Write(ctx, outputPacket(0, "a")); err != nil {
		t.Fatal(err)
	}
	entries, _ := store.Query(ctx, storage.Query{})
	if _, ok := entries[0].Fields[storage.FieldUser]; ok {
		t.Error("user field present without augment")
	}
	if entries[0].Fields[storage.FieldRec] != "rec-1" {
		t.Error("recording id missing without augment")
	}
}

type flakyStore struct {
	storage.Store
	failNext bool
}

func (s *flakyStore) Append(ctx context.Context, fields map[string]string) (string, error) {
	if s.failNext {
		s.failNext = false
		return "", errors.New("backend unavailable")
	}
	return s.Store.Append(ctx, fields)
}

func TestStoreWriter_FailedWriteLeavesNoGap(t *testing.T) {
	mem := storage.NewMemoryStore(clock.NewRealClock())
	store := &flakyStore{Store: mem}
	w := NewStoreWriter(KindRedis, store, sess, StoreOptions{Priority: PriorityInfo, Augment: true})

	if err := w.Write(ctx, outputPacket(0, "a")); err != nil {
		t.Fatal(err)
	}
	store.failNext = true
	err := w.Write(ctx, outputPacket(time.Second, "b"))
	var werr *WriteError
	if !errors.As(err, &werr) || werr.Seq != 2 || werr.Writer != KindRedis {
		t.Fatalf("Write() error = %v, want WriteError for entry 2", err)
	}
	if err := w.Write(ctx, outputPacket(2*time.Second, "c")); err != nil {
		t.Fatal(err)
	}

	entries, _ := mem.Query(ctx, storage.Query{})
	if len(entries) != 2 || entries[1].Fields[storage.FieldID] != "2" {
		t.Errorf("entries after a failed write = %+v", entries)
	}
}

func TestSyslogWriter_FacilityAndPriority(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listener unavailable: %v", err)
	}
	defer conn.Close()

	w, err := OpenSyslog(SyslogConfig{
		Facility: "auth",
		Priority: "info",
		Network:  "udp",
		Address:  conn.LocalAddr().String(),
	}, sess)
	if err != nil {
		t.Fatalf("OpenSyslog() error = %v", err)
	}
	defer w.Close()

	if err := w.Write(ctx, outputPacket(0, "hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("reading syslog datagram: %v", err)
	}
	msg := string(buf[:n])
	// auth (4) << 3 | info (6) = 38
	if !strings.HasPrefix(msg, "<38>") {
		t.Errorf("datagram = %q, want <38> prefix", msg)
	}
	if !strings.Contains(msg, `"txt":"hello"`) || !strings.Contains(msg, `"id":1`) {
		t.Errorf("datagram missing message body: %q", msg)
	}
}

func TestPriorityAndFacilityTables(t *testing.T) {
	prio := map[string]int{"emerg": 0, "err": 3, "warning": 4, "info": 6, "DEBUG": 7}
	for name, want := range prio {
		if got, err := ParsePriority(name); err != nil || got != want {
			t.Errorf("ParsePriority(%q) = %d, %v; want %d", name, got, err, want)
		}
	}
	fac := map[string]int{"kern": 0, "user": 1, "auth": 4, "authpriv": 10, "local0": 16, "local7": 23}
	for name, want := range fac {
		if got, err := ParseFacility(name); err != nil || got != want {
			t.Errorf("ParseFacility(%q) = %d, %v; want %d", name, got, err, want)
		}
	}
	if _, err := ParsePriority("loud"); err == nil {
		t.Error("ParsePriority(loud) should fail")
	}
	if _, err := ParseFacility("local8"); err == nil {
		t.Error("ParseFacility(local8) should fail")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"file ok", Config{Kind: KindFile, File: FileConfig{Path: "/tmp/x"}}, false},
		{"file without path", Config{Kind: KindFile}, true},
		{"journal ok", Config{Kind: KindJournal, Journal: JournalConfig{Priority: "info"}}, false},
		{"journal bad priority", Config{Kind: KindJournal, Journal: JournalConfig{Priority: "x"}}, true},
		{"syslog ok", Config{Kind: KindSyslog, Syslog: SyslogConfig{Facility: "authpriv", Priority: "info"}}, false},
		{"syslog bad facility", Config{Kind: KindSyslog, Syslog: SyslogConfig{Facility: "nope", Priority: "info"}}, true},
		{"redis without host", Config{Kind: KindRedis}, true},
		{"sqlite without path", Config{Kind: KindSQLite}, true},
		{"unknown", Config{Kind: "tape"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfig) {
				t.Errorf("Validate() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.db")
	w, err := Open(Config{Kind: KindSQLite, SQLite: SQLiteConfig{Path: path}}, sess)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := w.Write(ctx, outputPacket(0, "x")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	store, err := storage.OpenSQLite(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	entries, err := store.Query(ctx, storage.Query{Match: map[string]string{storage.FieldRec: "rec-1"}})
	if err != nil || len(entries) != 1 {
		t.Fatalf("Query() = %v, %v", entries, err)
	}
}
