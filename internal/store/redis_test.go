package store

import (
	"context"
	"testing"
)

func TestNewRedis(t *testing.T) {
	r, err := NewRedis("redis://:secret@cache.internal:6380/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	defer r.Close()
	opts := r.Client.Options()
	if opts.Addr != "cache.internal:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Errorf("options = addr %s db %d", opts.Addr, opts.DB)
	}

	plain, err := NewRedis("localhost:6379")
	if err != nil {
		t.Fatalf("plain addr: %v", err)
	}
	defer plain.Close()
	if plain.Client.Options().Addr != "localhost:6379" {
		t.Errorf("addr = %s", plain.Client.Options().Addr)
	}

	if _, err := NewRedis("redis://host:notaport"); err == nil {
		t.Error("expected error for bad url")
	}
}

func TestHealthyNil(t *testing.T) {
	var r *Redis
	if r.Healthy(context.Background()) {
		t.Error("nil client reported healthy")
	}
	var d *DB
	if d.Healthy(context.Background()) || d.Close() != nil {
		t.Error("nil db should be unhealthy and close cleanly")
	}
}
