package harvester

import (
	"fmt"
	"strings"
	"time"

	"arxiv_harvester/internal/domain"
)

var datestampLayouts = []string{
	time.RFC3339,
	"2006-01-02",
}

// normalize converts a raw OAI record into the canonical stored shape.
// Pure and deterministic. Fails with domain.ErrMalformedRecord when the
// header identifier or datestamp is missing or unparseable.
func normalize(raw *domain.RawRecord) (*domain.Record, error) {
	if raw.Identifier == "" {
		return nil, fmt.Errorf("%w: missing identifier", domain.ErrMalformedRecord)
	}
	if raw.Datestamp == "" {
		return nil, fmt.Errorf("%w: missing datestamp for %s", domain.ErrMalformedRecord, raw.Identifier)
	}

	datestamp, err := parseDatestamp(raw.Datestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}

	return &domain.Record{
		Identifier:  raw.Identifier,
		Datestamp:   datestamp,
		SetSpecs:    raw.SetSpecs,
		Creator:     toField(raw.Metadata["creator"]),
		DateField:   toField(raw.Metadata["date"]),
		Description: collapseField(toField(raw.Metadata["description"])),
		Identifiers: toField(raw.Metadata["identifier"]),
		Subject:     toField(raw.Metadata["subject"]),
		Title:       collapseField(toField(raw.Metadata["title"])),
		Type:        toField(raw.Metadata["type"]),
	}, nil
}

func parseDatestamp(s string) (time.Time, error) {
	for _, layout := range datestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable datestamp %q", s)
}

// toField tags a metadata value: single-valued fields are scalars,
// multi-valued fields stay ordered sequences.
func toField(values []string) domain.Field {
	if len(values) == 1 {
		return domain.ScalarField(values[0])
	}
	return domain.ListField(values)
}

// collapseField squeezes internal runs of whitespace and newlines in each
// value down to single spaces and trims the ends. Applied to the
// free-text fields (title, description), which arXiv wraps across lines.
func collapseField(f domain.Field) domain.Field {
	if len(f.Values) == 0 {
		return f
	}
	collapsed := make([]string, len(f.Values))
	for i, v := range f.Values {
		collapsed[i] = strings.Join(strings.Fields(v), " ")
	}
	f.Values = collapsed
	return f
}
