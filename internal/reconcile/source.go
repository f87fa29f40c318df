package reconcile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// fetchTimeout bounds a remote feed fetch end to end.
const fetchTimeout = 60 * time.Second

// RowSource yields raw CSV rows keyed by lowercased header.
type RowSource interface {
	Rows(ctx context.Context) ([]map[string]string, error)
	Ref() string
}

// CSVSource reads rows from an in-memory or streamed CSV document.
type CSVSource struct {
	r   io.Reader
	ref string
}

// NewCSVSource wraps a reader; ref is a display label (e.g. the uploaded
// filename).
func NewCSVSource(r io.Reader, ref string) *CSVSource {
	return &CSVSource{r: r, ref: ref}
}

// Ref returns the source label.
func (s *CSVSource) Ref() string { return s.ref }

// Rows parses the document. The header row is lowercased and trimmed so the
// normalizer's alias table matches directly; short records are padded, long
// ones tolerated.
func (s *CSVSource) Rows(ctx context.Context) ([]map[string]string, error) {
	reader := csv.NewReader(s.r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: read header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var rows []map[string]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reconcile: read row %d: %w", len(rows)+1, err)
		}
		row := make(map[string]string, len(header))
		for i, key := range header {
			if key == "" {
				continue
			}
			if i < len(record) {
				row[key] = record[i]
			} else {
				row[key] = ""
			}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

// URLSource fetches a CSV feed over HTTP.
type URLSource struct {
	client *http.Client
	url    string
}

// NewURLSource builds a URLSource; a nil client gets a default with the
// standard fetch timeout.
func NewURLSource(client *http.Client, url string) *URLSource {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &URLSource{client: client, url: url}
}

// Ref returns the feed URL.
func (s *URLSource) Ref() string { return s.url }

// Rows fetches and parses the feed.
func (s *URLSource) Rows(ctx context.Context) ([]map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("reconcile: build fetch request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reconcile: fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reconcile: fetch %s: unexpected status %d", s.url, resp.StatusCode)
	}
	return NewCSVSource(resp.Body, s.url).Rows(ctx)
}
