package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timestampLayouts are the ISO-8601 forms accepted for last_updated. Values
// without an offset are read as local time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 date-time with or without an offset.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON accepts any ISO-8601 last_updated. An unparsable
// timestamp leaves LastUpdated zero rather than failing the record.
func (r *PriceRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		Price       string `json:"price"`
		LastUpdated string `json:"last_updated"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Price = aux.Price
	r.LastUpdated = time.Time{}
	if aux.LastUpdated != "" {
		if ts, err := ParseTimestamp(aux.LastUpdated); err == nil {
			r.LastUpdated = ts
		}
	}
	return nil
}
