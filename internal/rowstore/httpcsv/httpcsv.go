// Package httpcsv opens community documents published as CSV over HTTP
// (a sheet's "publish to web" export, or cmd/mirror-server). Partitions are
// read only.
package httpcsv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"supporthub/internal/rowstore"
)

// DefaultURLTemplate points at a local mirror-server.
const DefaultURLTemplate = "http://localhost:9000/sheets/{key}?sheet={title}"

type Store struct {
	// URLTemplate expands {key} and {title} (both query-escaped).
	URLTemplate string
	Client      *http.Client
	MaxBytes    int64
}

func New(urlTemplate string) *Store {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	return &Store{
		URLTemplate: urlTemplate,
		Client:      &http.Client{Timeout: 20 * time.Second},
		MaxBytes:    16 << 20,
	}
}

func (s *Store) URL(key, title string) string {
	r := strings.NewReplacer(
		"{key}", url.QueryEscape(key),
		"{title}", url.QueryEscape(title),
	)
	return r.Replace(s.URLTemplate)
}

func (s *Store) OpenPartition(ctx context.Context, key, title string) (rowstore.Partition, error) {
	u := s.URL(key, title)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpcsv: build request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpcsv: request %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("httpcsv: %s/%s: %w", key, title, rowstore.ErrPartitionNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("httpcsv: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	records, err := ReadCSV(io.LimitReader(resp.Body, s.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("httpcsv: decode %s: %w", u, err)
	}

	cells, dims := rowstore.GridFromRecords(records)
	b := &snapshot{cells: make(map[[2]int]string, len(cells))}
	for _, c := range cells {
		b.cells[[2]int{c.Row, c.Col}] = c.Value
	}
	return rowstore.NewSheet(key, title, dims, b), nil
}

func (s *Store) CreatePartition(ctx context.Context, key, title string, header []string) (rowstore.Partition, error) {
	return nil, fmt.Errorf("httpcsv: create %s/%s: %w", key, title, rowstore.ErrReadOnly)
}

func (s *Store) ListPartitions(ctx context.Context) ([]rowstore.PartitionInfo, error) {
	return nil, fmt.Errorf("httpcsv: list: %w", rowstore.ErrUnsupported)
}

type snapshot struct {
	cells map[[2]int]string
}

func (b *snapshot) Load(ctx context.Context, rng rowstore.CellRange) ([]rowstore.Cell, error) {
	var out []rowstore.Cell
	for k, v := range b.cells {
		if rng.Contains(k[0], k[1]) {
			out = append(out, rowstore.Cell{Row: k[0], Col: k[1], Value: v})
		}
	}
	return out, nil
}

func (b *snapshot) Write(ctx context.Context, cells []rowstore.Cell, dims rowstore.Dims) error {
	return rowstore.ErrReadOnly
}
