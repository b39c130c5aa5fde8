// Package ingest extracts candidate listings from community source documents.
//
// Community documents often carry banner rows above the real header, so the
// header is located by scanning cells for the configured labels rather than
// assuming row 0.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"supporthub/internal/rowstore"
	"supporthub/pkg/models"
)

var ErrHeaderNotFound = errors.New("header row not found")

// HeaderNotFoundError is returned when the donateUrl header label never
// appears in the partition.
type HeaderNotFoundError struct {
	Source string
	Label  string
	Rows   int
}

func (e *HeaderNotFoundError) Error() string {
	return fmt.Sprintf("source %s: header %q not found in %d rows", e.Source, e.Label, e.Rows)
}

func (e *HeaderNotFoundError) Is(target error) bool {
	return target == ErrHeaderNotFound
}

type Ingestor struct {
	Store rowstore.Store
}

func New(store rowstore.Store) *Ingestor {
	return &Ingestor{Store: store}
}

// Extract opens the descriptor's partition and returns its candidate records.
func (in *Ingestor) Extract(ctx context.Context, d models.SourceDescriptor) ([]models.CandidateRecord, error) {
	part, err := in.Store.OpenPartition(ctx, d.PartitionKey, d.PartitionTitle)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", d.ID(), err)
	}
	if err := part.LoadCells(ctx, rowstore.All); err != nil {
		return nil, fmt.Errorf("load source %s: %w", d.ID(), err)
	}
	return ExtractPartition(part, d)
}

// ExtractPartition runs header discovery and row extraction over an already
// loaded partition.
func ExtractPartition(part rowstore.Partition, d models.SourceDescriptor) ([]models.CandidateRecord, error) {
	rowCount := part.RowCount()
	colCount := part.ColumnCount()

	columns, headerRow, ok := findHeader(part, d.FieldMap, rowCount, colCount)
	if !ok {
		return nil, &HeaderNotFoundError{
			Source: d.ID(),
			Label:  d.FieldMap[models.ColDonateURL],
			Rows:   rowCount,
		}
	}

	var out []models.CandidateRecord
	for r := headerRow + 1; r < rowCount; r++ {
		read := func(field string) string {
			idx, ok := columns[field]
			if !ok {
				return ""
			}
			return strings.TrimSpace(part.Cell(r, idx).Value)
		}

		donateURL, ok := NormalizeURL(read(models.ColDonateURL))
		if !ok {
			continue
		}
		out = append(out, models.CandidateRecord{
			Title:       read(models.ColTitle),
			Description: read(models.ColDescription),
			DonateURL:   donateURL,
			State:       read(models.ColState),
			City:        read(models.ColCity),
			Logo:        read(models.ColLogo),
		})
	}
	return out, nil
}

// findHeader scans rows top-down collecting field -> column matches until
// the donateUrl column is known. Later matches override earlier ones.
func findHeader(part rowstore.Partition, fieldMap map[string]string, rows, cols int) (map[string]int, int, bool) {
	columns := make(map[string]int, len(fieldMap))
	for r := 0; r < rows; r++ {
		for field, label := range fieldMap {
			label = strings.TrimSpace(label)
			for c := 0; c < cols; c++ {
				if strings.TrimSpace(part.Cell(r, c).Value) == label {
					columns[field] = c
					break
				}
			}
		}
		if _, ok := columns[models.ColDonateURL]; ok {
			return columns, r, true
		}
	}
	return nil, 0, false
}

var schemePrefix = regexp.MustCompile(`(?i)^https?://`)

// NormalizeURL lower-cases a case-insensitive http(s) scheme and rejects
// anything that is not an http(s) URL. The rest of the string is untouched.
func NormalizeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	out := schemePrefix.ReplaceAllStringFunc(raw, strings.ToLower)
	if !strings.HasPrefix(out, "http://") && !strings.HasPrefix(out, "https://") {
		return "", false
	}
	return out, true
}
