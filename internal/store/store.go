// Package store persists the latest price per symbol.
//
// Every implementation is driven by exactly one writer goroutine; none of
// them coordinate concurrent Put calls themselves. File-backed stores
// rewrite the whole file on each Put: a missing file is an empty store, a
// corrupt file is logged and replaced, and the new contents are renamed
// over the old ones so readers never observe a half-written file.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

// PriceRecord is the persisted state of one symbol.
type PriceRecord struct {
	Price       string    `json:"price"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store is the shared output store.
type Store interface {
	// Put sets or overwrites the record for symbol.
	Put(ctx context.Context, symbol string, rec PriceRecord) error

	// Load returns every persisted record keyed by symbol.
	Load(ctx context.Context) (map[string]PriceRecord, error)

	// Close releases the store's resources.
	Close() error
}

// ErrCorrupt is returned by Load when the persisted data cannot be decoded.
var ErrCorrupt = errors.New("store contents are corrupt")

// Format selects a Store implementation.
type Format string

const (
	FormatJSON  Format = "json"
	FormatXLSX  Format = "xlsx"
	FormatRedis Format = "redis"
)

// Options configures Open.
type Options struct {
	Format Format
	// Path is the output file for the json and xlsx formats.
	Path string
	// Fs backs the file formats; nil means the OS filesystem.
	Fs afero.Fs

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// RedisKey is the hash holding all records.
	RedisKey string

	Logger *slog.Logger
}

// Open creates the store selected by opts.Format.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch opts.Format {
	case FormatJSON, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("json store requires an output path")
		}
		return NewJSONFile(opts.Fs, opts.Path, opts.Logger), nil
	case FormatXLSX:
		if opts.Path == "" {
			return nil, fmt.Errorf("xlsx store requires an output path")
		}
		return NewXLSXFile(opts.Fs, opts.Path, opts.Logger), nil
	case FormatRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.RedisAddr, err)
		}
		return NewRedisHash(client, opts.RedisKey, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", opts.Format)
	}
}
