package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/SmitUplenchwar2687/tlog/internal/packet"
)

const defaultElasticPageSize = 500

// ElasticConfig configures the Elasticsearch reader. Documents in Index are
// messages in the recording wire form.
type ElasticConfig struct {
	Addresses []string `json:"addresses" yaml:"addresses"`
	Index     string   `json:"index" yaml:"index"`
	// Query is an optional query_string narrowing the documents, e.g.
	// `host:build-01 AND user:alice`.
	Query    string `json:"query" yaml:"query"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	PageSize int    `json:"page_size" yaml:"page_size"`
}

// ElasticReader pages through a recording sorted by entry number. Each page
// asks for ids above the last one delivered, so a reader at io.EOF picks up
// documents indexed later.
type ElasticReader struct {
	es    *elasticsearch.Client
	cfg   ElasticConfig
	match Match

	pending []packet.Packet
	last    uint64
}

// NewElasticReader creates a client for cfg. No request is made until Next.
func NewElasticReader(cfg ElasticConfig, match Match) (*ElasticReader, error) {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultElasticPageSize
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &ElasticReader{es: es, cfg: cfg, match: match}, nil
}

func (r *ElasticReader) Next(ctx context.Context) (packet.Packet, error) {
	if len(r.pending) == 0 {
		if err := r.fetch(ctx); err != nil {
			return packet.Packet{}, err
		}
	}
	if len(r.pending) == 0 {
		return packet.Packet{}, io.EOF
	}
	p := r.pending[0]
	r.pending = r.pending[1:]
	if p.Seq > r.last {
		r.last = p.Seq
	}
	return p, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (r *ElasticReader) fetch(ctx context.Context) error {
	body, err := json.Marshal(r.searchBody())
	if err != nil {
		return fmt.Errorf("encoding search: %w", err)
	}

	res, err := r.es.Search(
		r.es.Search.WithContext(ctx),
		r.es.Search.WithIndex(r.cfg.Index),
		r.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch search: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return fmt.Errorf("decoding search response: %w", err)
	}
	for _, h := range sr.Hits.Hits {
		m, err := packet.UnmarshalMessage(h.Source)
		if err != nil {
			return fmt.Errorf("document %s: %w", h.ID, err)
		}
		p, err := m.Packet()
		if err != nil {
			return fmt.Errorf("document %s: %w", h.ID, err)
		}
		r.pending = append(r.pending, p)
	}
	return nil
}

func (r *ElasticReader) searchBody() map[string]any {
	filter := []any{
		map[string]any{"range": map[string]any{"id": map[string]any{"gt": r.last}}},
	}
	if r.match.Rec != "" {
		filter = append(filter, map[string]any{"match_phrase": map[string]any{"rec": r.match.Rec}})
	}
	if r.match.Host != "" {
		filter = append(filter, map[string]any{"match_phrase": map[string]any{"host": r.match.Host}})
	}
	if r.match.User != "" {
		filter = append(filter, map[string]any{"match_phrase": map[string]any{"user": r.match.User}})
	}
	if r.cfg.Query != "" {
		filter = append(filter, map[string]any{"query_string": map[string]any{"query": r.cfg.Query}})
	}
	return map[string]any{
		"size":  r.cfg.PageSize,
		"sort":  []any{map[string]any{"id": "asc"}},
		"query": map[string]any{"bool": map[string]any{"filter": filter}},
	}
}

// Close is a no-op; the client holds no per-reader resources.
func (r *ElasticReader) Close() error {
	return nil
}
