// Package catalog declares the per-source metadata that drives the CDC
// pipeline. The catalog is frozen at process start; every collector,
// assembler, and dispatcher decision is data-driven off these entries so
// adding a source never touches pipeline code.
package catalog

import (
	"fmt"

	"github.com/northcell/conversation-cdc/internal/domain"
)

// Source describes one polled source table.
type Source struct {
	// ID is the catalog identifier carried on outbound messages (sourceId).
	ID string

	Table              string
	IDColumn           string
	TimeColumn         string // collect ordering and recency predicate
	FragmentTimeColumn string // per-fragment ordering and processed-ID watermarks
	TextColumn         string

	// ValidChannels is the superset of channel tags allowed in messages.
	// RequiredChannels must all be observed for assembly to succeed.
	ValidChannels    []string
	RequiredChannels []string
	ChannelColumn    string

	// MinSegments is the minimum fragment count for a viable conversation.
	MinSegments int

	// BaseFilter and TimeFilter are SQL predicates appended to the collect
	// query. IndexHint is opaque and forwarded to the database as a hint
	// comment; Postgres ignores it.
	BaseFilter string
	TimeFilter string
	IndexHint  string

	// ModeKey names this source's row in cdc_processing_status.
	ModeKey string

	// DestinationType tags rows in the destination tables (CALL, WAPP).
	DestinationType string

	Enabled bool
}

// Validate reports the first structural problem with the entry.
func (s Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source has no id")
	}
	if s.Table == "" || s.IDColumn == "" || s.TimeColumn == "" || s.FragmentTimeColumn == "" {
		return fmt.Errorf("source %s: table and column names are required", s.ID)
	}
	if s.TextColumn == "" || s.ChannelColumn == "" {
		return fmt.Errorf("source %s: text and channel columns are required", s.ID)
	}
	if s.MinSegments < 1 {
		return fmt.Errorf("source %s: min segments must be at least 1", s.ID)
	}
	if s.ModeKey == "" {
		return fmt.Errorf("source %s: mode key is required", s.ID)
	}
	if s.DestinationType == "" {
		return fmt.Errorf("source %s: destination type is required", s.ID)
	}
	valid := make(map[string]bool, len(s.ValidChannels))
	for _, c := range s.ValidChannels {
		valid[c] = true
	}
	for _, c := range s.RequiredChannels {
		if !valid[c] {
			return fmt.Errorf("source %s: required channel %q is not in valid channels", s.ID, c)
		}
	}
	return nil
}

// Catalog is an ordered, immutable set of sources. Iteration order is the
// declaration order; the CDC loop relies on it being stable.
type Catalog struct {
	sources []Source
	byID    map[string]Source
}

// New builds a catalog after validating every entry.
func New(sources []Source) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Source, len(sources))}
	for _, s := range sources {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %s", s.ID)
		}
		c.sources = append(c.sources, s)
		c.byID[s.ID] = s
	}
	return c, nil
}

// All returns every source in declaration order.
func (c *Catalog) All() []Source {
	out := make([]Source, len(c.sources))
	copy(out, c.sources)
	return out
}

// Enabled returns the enabled sources in declaration order.
func (c *Catalog) Enabled() []Source {
	var out []Source
	for _, s := range c.sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// ByID looks a source up by catalog id.
func (c *Catalog) ByID(id string) (Source, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// DestinationFor maps a catalog id to its destination type tag, falling
// back to CALL for unknown ids (the historical majority source).
func (c *Catalog) DestinationFor(id string) string {
	if s, ok := c.byID[id]; ok {
		return s.DestinationType
	}
	return domain.DestinationCall
}

// ByDestination returns the first source serving the given destination
// type tag. Used by the ingestor to find the table behind a result.
func (c *Catalog) ByDestination(destinationType string) (Source, bool) {
	for _, s := range c.sources {
		if s.DestinationType == destinationType {
			return s, true
		}
	}
	return Source{}, false
}

// Default returns the production catalog: the Verint call-transcription
// table and the Salesforce Omni-Channel WhatsApp table.
func Default() *Catalog {
	c, err := New([]Source{
		{
			ID:                 "verint",
			Table:              "verint_text_analysis",
			IDColumn:           "call_id",
			TimeColumn:         "call_time",
			FragmentTimeColumn: "call_time",
			TextColumn:         "text",
			ChannelColumn:      "owner",
			ValidChannels:      []string{"A", "C"},
			RequiredChannels:   []string{"A", "C"},
			MinSegments:        11,
			TimeFilter:         "call_time > NOW() - INTERVAL '120 minutes'",
			IndexHint:          "verint_text_analysis_3ix",
			ModeKey:            "CDC_NORMAL_MODE",
			DestinationType:    domain.DestinationCall,
			Enabled:            true,
		},
		{
			ID:                 "sf_oc",
			Table:              "sf_oc_text_analysis_temp",
			IDColumn:           "case_id",
			TimeColumn:         "case_date",
			FragmentTimeColumn: "message_date",
			TextColumn:         "text",
			ChannelColumn:      "owner",
			ValidChannels:      []string{"A", "B", "C"},
			RequiredChannels:   []string{"C"},
			MinSegments:        5,
			BaseFilter:         "channel_code <> 2 AND last_run_date > date_trunc('day', NOW()) AND channel_desc = 'WhatsApp' AND text IS NOT NULL",
			TimeFilter:         "case_date > date_trunc('day', NOW()) - INTERVAL '7 days'",
			ModeKey:            "CDC_NORMAL_MODE_SF_OC",
			DestinationType:    domain.DestinationWhatsApp,
			Enabled:            true,
		},
	})
	if err != nil {
		// The built-in catalog is covered by tests; reaching this is a bug.
		panic(err)
	}
	return c
}
