// Package storetest holds behaviour tests shared by every [session.Store]
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nwang783/just-in-case/internal/session"
)

// Run exercises a fresh, empty store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) session.Store) {
	t.Helper()

	base := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	exp := base.Add(time.Hour).Unix()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, session.ErrNotFound) {
			t.Errorf("Get err = %v, want ErrNotFound", err)
		}
	})

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := session.Record{
			ID:             "s-1",
			CompanySlug:    "bain-company",
			InterviewType:  "Candidate-led Case",
			RoomURL:        "https://example.daily.co/r1",
			RoomName:       "r1",
			ExpiresAt:      &exp,
			Status:         session.StatusBotRunning,
			LastError:      "previous failure",
			CreatedAt:      base,
			UpdatedAt:      base.Add(time.Minute),
			ConversationID: "conv-1",
			TranscriptPath: "/t/transcript-conv-1.json",
			AnalysisPath:   "/a/transcript-conv-1-analysis.json",
		}
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "s-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ExpiresAt == nil || *got.ExpiresAt != exp {
			t.Errorf("ExpiresAt = %v", got.ExpiresAt)
		}
		got.ExpiresAt, rec.ExpiresAt = nil, nil
		if !got.CreatedAt.Equal(rec.CreatedAt) || !got.UpdatedAt.Equal(rec.UpdatedAt) {
			t.Errorf("times = %v / %v", got.CreatedAt, got.UpdatedAt)
		}
		got.CreatedAt, got.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
		if got != rec {
			t.Errorf("Get = %+v\nwant %+v", got, rec)
		}
	})

	t.Run("PutReplaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := session.Record{ID: "s-1", Status: session.StatusRoomCreated, CreatedAt: base, UpdatedAt: base}
		_ = s.Put(ctx, rec)
		rec.Status = session.StatusBotCompleted
		rec.UpdatedAt = base.Add(time.Hour)
		if err := s.Put(ctx, rec); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Get(ctx, "s-1")
		if got.Status != session.StatusBotCompleted || got.ExpiresAt != nil {
			t.Errorf("Get = %+v", got)
		}
		list, _ := s.List(ctx)
		if len(list) != 1 {
			t.Errorf("List len = %d after replace", len(list))
		}
	})

	t.Run("ListOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i, id := range []string{"c", "a", "b"} {
			created := base.Add(time.Duration(2-i) * time.Minute)
			if err := s.Put(ctx, session.Record{ID: id, Status: session.StatusRoomCreated, CreatedAt: created, UpdatedAt: created}); err != nil {
				t.Fatal(err)
			}
		}
		list, err := s.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, r := range list {
			ids = append(ids, r.ID)
		}
		if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
			t.Errorf("order = %v, want [b a c]", ids)
		}
	})
}
