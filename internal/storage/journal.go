package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// ErrJournalUnavailable is returned when the local journal socket is absent.
var ErrJournalUnavailable = errors.New("systemd journal is not available")

// JournalConfig configures the systemd journal backend.
type JournalConfig struct {
	// Journalctl is the query binary. Defaults to "journalctl" on PATH.
	Journalctl string `json:"journalctl" yaml:"journalctl"`
	// Directory, when set, queries journal files from this directory
	// instead of the system journal.
	Directory string `json:"directory" yaml:"directory"`
	// SkipProbe skips the socket check on open; used for read-only access.
	SkipProbe bool `json:"-" yaml:"-" ignored:"true"`
}

// JournalStore appends through the native journal protocol and queries by
// running journalctl with JSON output.
type JournalStore struct {
	journalctl string
	directory  string
}

// NewJournalStore returns a journal-backed store.
func NewJournalStore(cfg JournalConfig) (*JournalStore, error) {
	if !cfg.SkipProbe && !journal.Enabled() {
		return nil, ErrJournalUnavailable
	}
	bin := cfg.Journalctl
	if bin == "" {
		bin = "journalctl"
	}
	return &JournalStore{journalctl: bin, directory: cfg.Directory}, nil
}

// Append sends one entry. MESSAGE and PRIORITY are taken from the fields;
// PRIORITY must be numeric and defaults to info.
func (s *JournalStore) Append(_ context.Context, fields map[string]string) (string, error) {
	if err := validateFields(fields); err != nil {
		return "", err
	}
	prio := journal.PriInfo
	if v, ok := fields[FieldPriority]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < int(journal.PriEmerg) || n > int(journal.PriDebug) {
			return "", fmt.Errorf("invalid journal priority %q", v)
		}
		prio = journal.Priority(n)
	}
	vars := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == FieldMessage || k == FieldPriority {
			continue
		}
		vars[k] = v
	}
	if err := journal.Send(fields[FieldMessage], prio, vars); err != nil {
		return "", fmt.Errorf("journal send: %w", err)
	}
	return "", nil
}

// Query runs journalctl and decodes its JSON export.
func (s *JournalStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.journalctl, s.args(q)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("journalctl: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("journalctl: %w", err)
	}

	out, parseErr := decodeJournalExport(stdout, q)
	if parseErr != nil || (q.Limit > 0 && len(out) >= q.Limit) {
		// Stop a still-running journalctl once we have what we need.
		cancel()
		_, _ = io.Copy(io.Discard, stdout)
		_ = cmd.Wait()
		return out, parseErr
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("journalctl: %w", err)
	}
	return out, nil
}

// Close is a no-op; the journal socket is not held open.
func (s *JournalStore) Close() error {
	return nil
}

func (s *JournalStore) args(q Query) []string {
	args := []string{"--output=json", "--no-pager", "--quiet"}
	if s.directory != "" {
		args = append(args, "--directory="+s.directory)
	}
	if !q.Since.IsZero() {
		args = append(args, fmt.Sprintf("--since=@%d", q.Since.Unix()))
	}
	if !q.Until.IsZero() {
		args = append(args, fmt.Sprintf("--until=@%d", q.Until.Unix()+1))
	}
	if q.After != "" {
		args = append(args, "--after-cursor="+q.After)
	}
	if q.Reverse {
		args = append(args, "--reverse")
		if q.Limit > 0 {
			args = append(args, "--lines="+strconv.Itoa(q.Limit))
		}
	}
	for _, k := range SortedKeys(q.Match) {
		args = append(args, k+"="+q.Match[k])
	}
	return args
}

// decodeJournalExport reads journalctl JSON lines until EOF or the limit.
func decodeJournalExport(r io.Reader, q Query) ([]Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []Entry
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := parseJournalEntry(line)
		if err != nil {
			return out, err
		}
		// journalctl bounds by whole seconds; refine here.
		if !q.matches(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			return out, nil
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("reading journalctl output: %w", err)
	}
	return out, nil
}

func parseJournalEntry(line []byte) (Entry, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, fmt.Errorf("decoding journal entry: %w", err)
	}
	e := Entry{Fields: make(map[string]string, len(raw))}
	for k, v := range raw {
		s, ok := journalValue(v)
		if !ok {
			continue
		}
		switch k {
		case "__CURSOR":
			e.Cursor = s
		case "__REALTIME_TIMESTAMP":
			us, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return Entry{}, fmt.Errorf("bad realtime timestamp %q: %w", s, err)
			}
			e.Time = time.UnixMicro(us)
		default:
			e.Fields[k] = s
		}
	}
	return e, nil
}

// journalValue decodes a journal JSON field value: a string, an array of
// byte values for binary data, or an array of either for repeated fields
// (the last one wins).
func journalValue(v json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	var b []int
	if err := json.Unmarshal(v, &b); err == nil {
		buf := make([]byte, len(b))
		for i, c := range b {
			buf[i] = byte(c)
		}
		return string(buf), true
	}
	var many []json.RawMessage
	if err := json.Unmarshal(v, &many); err == nil && len(many) > 0 {
		return journalValue(many[len(many)-1])
	}
	return "", false
}
