package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisHash_PutAndLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisHash(rdb, "", testLogger())
	defer s.Close()
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := s.Put(ctx, "AAPL", PriceRecord{Price: "150.00", LastUpdated: ts}); err != nil {
		t.Fatalf("Put() returned unexpected error: %v", err)
	}

	raw := mr.HGet(DefaultRedisKey, "AAPL")
	var rec PriceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("hash field is not valid JSON: %v (%q)", err, raw)
	}
	if rec.Price != "150.00" || !rec.LastUpdated.Equal(ts) {
		t.Errorf("stored record = %+v, want price 150.00 at %v", rec, ts)
	}

	mr.HSet(DefaultRedisKey, "BROKEN", "{")

	records, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if len(records) != 1 || records["AAPL"].Price != "150.00" {
		t.Errorf("Load() = %v, want only AAPL", records)
	}
}

func TestRedisHash_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisHash(rdb, "prices", testLogger())
	defer s.Close()
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, s.Channel("GOOG"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe() returned unexpected error: %v", err)
	}

	if err := s.Put(ctx, "GOOG", PriceRecord{Price: "2800.10", LastUpdated: time.Now()}); err != nil {
		t.Fatalf("Put() returned unexpected error: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Channel != "prices:GOOG" {
			t.Errorf("channel = %q, want prices:GOOG", msg.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"json", Options{Format: FormatJSON, Path: "out.json"}, false},
		{"default format", Options{Path: "out.json"}, false},
		{"xlsx", Options{Format: FormatXLSX, Path: "out.xlsx"}, false},
		{"redis", Options{Format: FormatRedis, RedisAddr: mr.Addr()}, false},
		{"json without path", Options{Format: FormatJSON}, true},
		{"unknown", Options{Format: "csv", Path: "out.csv"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Error("Open() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() returned unexpected error: %v", err)
			}
			s.Close()
		})
	}
}
