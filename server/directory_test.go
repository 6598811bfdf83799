package server

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestUpsertLookupRoundTrip(t *testing.T) {
	dir := NewInMemoryDirectory(UpdateReplace)
	u := User{Subject: "u1", Email: "a@x.com", Name: "Alice", EmailVerified: true}

	if err := dir.Upsert(u); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	got, err := dir.Lookup("u1")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if got.Email != "a@x.com" || got.Name != "Alice" || !got.EmailVerified {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("expected UpdatedAt to be stamped")
	}
}

func TestUpsertReplaceOverwritesFully(t *testing.T) {
	dir := NewInMemoryDirectory(UpdateReplace)
	if err := dir.Upsert(User{Subject: "u1", Email: "a@x.com", Name: "Alice", Picture: "http://img/alice"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Second login carries fewer claims; nothing stale may survive.
	if err := dir.Upsert(User{Subject: "u1", Email: "b@x.com"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := dir.Lookup("u1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Email != "b@x.com" {
		t.Fatalf("expected overwritten email, got %q", got.Email)
	}
	if got.Name != "" || got.Picture != "" {
		t.Fatalf("stale fields survived replace: %+v", got)
	}
}

func TestUpsertMergeKeepsStoredFields(t *testing.T) {
	dir := NewInMemoryDirectory(UpdateMerge)
	if err := dir.Upsert(User{Subject: "u1", Email: "a@x.com", Name: "Alice"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := dir.Upsert(User{Subject: "u1", Picture: "http://img/alice"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := dir.Lookup("u1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Email != "a@x.com" || got.Name != "Alice" || got.Picture != "http://img/alice" {
		t.Fatalf("merge lost fields: %+v", got)
	}
}

func TestUpsertRejectsEmptySubject(t *testing.T) {
	dir := NewInMemoryDirectory(UpdateReplace)
	if err := dir.Upsert(User{Email: "a@x.com"}); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestLookupUnknownSubject(t *testing.T) {
	dir := NewInMemoryDirectory(UpdateReplace)
	if _, err := dir.Lookup("nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	dir := NewInMemoryDirectory(UpdateReplace)
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	dir.now = func() time.Time { return fixed }

	u := User{Subject: "u1", Email: "a@x.com"}
	if err := dir.Upsert(u); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	first, _ := dir.Lookup("u1")
	if err := dir.Upsert(u); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, _ := dir.Lookup("u1")
	if first != second {
		t.Fatalf("repeated identical upserts diverged: %+v vs %+v", first, second)
	}
}

func TestConcurrentUpsertsSerialize(t *testing.T) {
	dir := NewInMemoryDirectory(UpdateReplace)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = dir.Upsert(User{Subject: "u1", Email: fmt.Sprintf("user%d@x.com", i)})
		}(i)
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = dir.Lookup("u1")
		}()
	}
	wg.Wait()

	got, err := dir.Lookup("u1")
	if err != nil {
		t.Fatalf("Lookup after concurrent upserts: %v", err)
	}
	if got.Email == "" {
		t.Fatalf("expected some writer to win, got empty record")
	}
	if dir.Len() != 1 {
		t.Fatalf("expected a single record, got %d", dir.Len())
	}
}
