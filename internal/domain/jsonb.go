package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a jsonb-backed []string, used for fingerprints,
// secondaryCategories, saveReasons, assumptions, and forwardedTo.
type StringList []string

// Value implements driver.Valuer for storage as a jsonb column.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal([]string(s))
}

// Scan implements sql.Scanner.
func (s *StringList) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	b, err := jsonbBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, (*[]string)(s))
}

// CategoryScores is a jsonb-backed map[Category]float64.
type CategoryScores map[Category]float64

func (c CategoryScores) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	return json.Marshal(map[Category]float64(c))
}

func (c *CategoryScores) Scan(src interface{}) error {
	if src == nil {
		*c = nil
		return nil
	}
	b, err := jsonbBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, (*map[Category]float64)(c))
}

// ConfidenceReasons is a jsonb-backed list of provenance factors.
type ConfidenceReasons []ConfidenceReason

// ConfidenceReason explains one component of an Event's confidence score.
type ConfidenceReason struct {
	Factor string  `json:"factor"`
	Weight float64 `json:"weight"`
	Value  string  `json:"value"`
}

func (c ConfidenceReasons) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	return json.Marshal([]ConfidenceReason(c))
}

func (c *ConfidenceReasons) Scan(src interface{}) error {
	if src == nil {
		*c = nil
		return nil
	}
	b, err := jsonbBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, (*[]ConfidenceReason)(c))
}

// JSONObject is a jsonb-backed free-form structured payload, used for
// AuditLog.Details.
type JSONObject map[string]interface{}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return "{}", nil
	}
	return json.Marshal(map[string]interface{}(j))
}

func (j *JSONObject) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}
	b, err := jsonbBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, (*map[string]interface{})(j))
}

// Value implements driver.Valuer, storing Provenance as one jsonb
// column on Event.
func (p Provenance) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *Provenance) Scan(src interface{}) error {
	if src == nil {
		*p = Provenance{}
		return nil
	}
	b, err := jsonbBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, p)
}

// Value implements driver.Valuer, storing EventIntent as one jsonb
// column on Event and CalendarOperation.
func (e EventIntent) Value() (driver.Value, error) {
	return json.Marshal(e)
}

// Scan implements sql.Scanner.
func (e *EventIntent) Scan(src interface{}) error {
	if src == nil {
		*e = EventIntent{}
		return nil
	}
	b, err := jsonbBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, e)
}

func jsonbBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("domain: unsupported jsonb source type %T", src)
	}
}
