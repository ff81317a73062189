package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewWithoutBucketIsNoOp(t *testing.T) {
	archive, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if archive != nil {
		t.Fatal("expected nil archive when no bucket is configured")
	}
}

func TestBuildKeyLayout(t *testing.T) {
	a := &Archive{bucket: "torale-archive", prefix: "executions"}
	id := uuid.New()
	at := time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)

	key := a.buildKey(id, at)
	want := "executions/2026/03/" + id.String() + ".json"
	if key != want {
		t.Errorf("expected key %q, got %q", want, key)
	}
}
