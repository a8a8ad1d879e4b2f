package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
)

// JSONFile stores all records as one indented JSON object:
//
//	{"AAPL": {"price": "150.00", "last_updated": "2024-05-01T10:00:00Z"}}
type JSONFile struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// NewJSONFile creates a JSON file store at path.
func NewJSONFile(fs afero.Fs, path string, logger *slog.Logger) *JSONFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONFile{fs: fs, path: path, logger: logger}
}

// Load reads the file. A missing file is an empty store; a file that is
// not a JSON object returns ErrCorrupt. Entries that cannot be decoded as a
// record are logged and skipped.
func (s *JSONFile) Load(ctx context.Context) (map[string]PriceRecord, error) {
	raw, err := s.loadRaw()
	if err != nil {
		return nil, err
	}

	records := make(map[string]PriceRecord, len(raw))
	for symbol, data := range raw {
		var rec PriceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping undecodable record",
				"path", s.path,
				"symbol", symbol,
				"error", err)
			continue
		}
		records[symbol] = rec
	}
	return records, nil
}

// loadRaw reads the file as symbol -> undecoded record.
func (s *JSONFile) loadRaw() (map[string]json.RawMessage, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if isNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	raw := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(data)) == 0 {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if raw == nil {
		raw = map[string]json.RawMessage{}
	}
	return raw, nil
}

// Put reads the file, sets the record for symbol and rewrites the file.
// Other entries are written back exactly as they were read.
func (s *JSONFile) Put(ctx context.Context, symbol string, rec PriceRecord) error {
	raw, err := s.loadRaw()
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			return err
		}
		s.logger.Error("output store is corrupt, starting with an empty store",
			"path", s.path,
			"error", err)
		raw = map[string]json.RawMessage{}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record for %s: %w", symbol, err)
	}
	raw[symbol] = payload

	return replaceFile(s.fs, s.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(raw); err != nil {
			return fmt.Errorf("failed to encode records: %w", err)
		}
		return nil
	})
}

// Close implements Store.
func (s *JSONFile) Close() error {
	return nil
}
