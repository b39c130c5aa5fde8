package models

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultDocumentURLTemplate renders a partition key into the human-facing
// address of its document. It is used as the provenance id of a source.
const DefaultDocumentURLTemplate = "https://docs.google.com/spreadsheets/d/%s/edit"

// SourceDescriptor describes one community document feeding a region.
type SourceDescriptor struct {
	Region         string            `json:"region" yaml:"region"`
	PartitionKey   string            `json:"partitionKey" yaml:"partitionKey"`
	PartitionTitle string            `json:"partitionTitle,omitempty" yaml:"partitionTitle,omitempty"`
	URL            string            `json:"url,omitempty" yaml:"url,omitempty"`
	FieldMap       map[string]string `json:"fieldMap" yaml:"fieldMap"` // canonical field -> source header label
}

// ID identifies the source in the canonical source column.
func (d SourceDescriptor) ID() string {
	return d.IDWithTemplate(DefaultDocumentURLTemplate)
}

// IDWithTemplate is ID with a custom document URL template.
func (d SourceDescriptor) IDWithTemplate(tmpl string) string {
	if d.URL != "" {
		return d.URL
	}
	if tmpl == "" {
		tmpl = DefaultDocumentURLTemplate
	}
	id := fmt.Sprintf(tmpl, d.PartitionKey)
	if d.PartitionTitle != "" {
		id += "#sheet=" + url.PathEscape(d.PartitionTitle)
	}
	return id
}

// Validate checks the descriptor is usable by the ingestor.
func (d SourceDescriptor) Validate() error {
	if strings.TrimSpace(d.Region) == "" {
		return fmt.Errorf("source %q: region required", d.PartitionKey)
	}
	if strings.TrimSpace(d.PartitionKey) == "" {
		return fmt.Errorf("source for region %s: partitionKey required", d.Region)
	}
	if strings.TrimSpace(d.FieldMap[ColDonateURL]) == "" {
		return fmt.Errorf("source %q: fieldMap.%s required", d.PartitionKey, ColDonateURL)
	}
	for field := range d.FieldMap {
		if !isCandidateField(field) {
			return fmt.Errorf("source %q: unknown field %q", d.PartitionKey, field)
		}
	}
	return nil
}

// GroupByRegion returns regions in first-seen order and their sources in
// declaration order.
func GroupByRegion(descs []SourceDescriptor) ([]string, map[string][]SourceDescriptor) {
	var regions []string
	byRegion := make(map[string][]SourceDescriptor)
	for _, d := range descs {
		if _, ok := byRegion[d.Region]; !ok {
			regions = append(regions, d.Region)
		}
		byRegion[d.Region] = append(byRegion[d.Region], d)
	}
	return regions, byRegion
}

func isCandidateField(f string) bool {
	for _, c := range CandidateFields {
		if c == f {
			return true
		}
	}
	return false
}
