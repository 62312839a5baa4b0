package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Field is a metadata value as supplied by the OAI source: either a single
// scalar string or an ordered sequence of strings. The shape is fixed at
// normalization time and survives storage round trips, so multi-valued
// fields stay queryable.
type Field struct {
	Scalar bool
	Values []string
}

func ScalarField(v string) Field {
	return Field{Scalar: true, Values: []string{v}}
}

func ListField(vs []string) Field {
	return Field{Values: vs}
}

func (f Field) IsZero() bool {
	return len(f.Values) == 0
}

// First returns the first value, or the empty string for an empty field.
func (f Field) First() string {
	if len(f.Values) == 0 {
		return ""
	}
	return f.Values[0]
}

func (f Field) MarshalJSON() ([]byte, error) {
	if f.Scalar && len(f.Values) == 1 {
		return json.Marshal(f.Values[0])
	}
	if f.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f.Values)
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = ScalarField(s)
		return nil
	}
	var vs []string
	if err := json.Unmarshal(data, &vs); err != nil {
		return fmt.Errorf("field is neither string nor string list: %w", err)
	}
	*f = ListField(vs)
	return nil
}

// Value implements driver.Valuer so fields land in JSONB columns.
func (f Field) Value() (driver.Value, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (f *Field) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = Field{}
		return nil
	case []byte:
		return f.UnmarshalJSON(v)
	case string:
		return f.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Field", src)
	}
}

// StringList is a JSONB-backed string slice, used for the set specs a
// record belongs to.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}

// Record is the canonical stored unit: one harvested bibliographic record,
// keyed by the stable OAI header identifier.
type Record struct {
	ID          int64      `db:"id"`
	Identifier  string     `db:"identifier"`
	Datestamp   time.Time  `db:"datestamp"`
	SetSpecs    StringList `db:"set_specs"`
	Creator     Field      `db:"creator"`
	DateField   Field      `db:"date_field"`
	Description Field      `db:"description"`
	Identifiers Field      `db:"identifiers"`
	Subject     Field      `db:"subject"`
	Title       Field      `db:"title"`
	Type        Field      `db:"type"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// RawRecord is one unparsed unit from the paged source: the OAI header
// plus the Dublin Core metadata block, before normalization.
type RawRecord struct {
	Identifier string
	Datestamp  string
	SetSpecs   []string
	Metadata   map[string][]string
}
