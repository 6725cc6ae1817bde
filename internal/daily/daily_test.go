package daily

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

var roomNameRE = regexp.MustCompile(`^case-coach-20260304-050607-[0-9a-f]{4}$`)

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestRoomName(t *testing.T) {
	if got := RoomName("", fixedNow); !roomNameRE.MatchString(got) {
		t.Errorf("RoomName = %q", got)
	}
	if got := RoomName("  mock ", fixedNow); !strings.HasPrefix(got, "mock-20260304-050607-") {
		t.Errorf("RoomName with prefix = %q", got)
	}
	if RoomName("", fixedNow) == RoomName("", fixedNow) {
		t.Error("two names in the same second should differ")
	}
}

func TestCreateRoom(t *testing.T) {
	var gotReq createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rooms" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":   gotReq.Name,
			"url":    "https://example.daily.co/" + gotReq.Name,
			"config": map[string]any{"exp": gotReq.Properties.Exp},
		})
	}))
	defer srv.Close()

	c, err := New("secret", WithAPIURL(srv.URL+"/"), WithHTTPClient(srv.Client()), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatal(err)
	}
	room, err := c.CreateRoom(context.Background(), 60)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if !roomNameRE.MatchString(gotReq.Name) {
		t.Errorf("requested name = %q", gotReq.Name)
	}
	if want := fixedNow.Add(time.Hour).Unix(); gotReq.Properties == nil || gotReq.Properties.Exp != want {
		t.Errorf("exp = %+v, want %d", gotReq.Properties, want)
	}
	if room.Name != gotReq.Name || room.URL != "https://example.daily.co/"+gotReq.Name {
		t.Errorf("room = %+v", room)
	}
	if !room.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", room.ExpiresAt)
	}
	if got := room.PrettyExpiration(); got != "2026-03-04 06:06:07 UTC" {
		t.Errorf("PrettyExpiration = %q", got)
	}
}

func TestCreateRoom_NoExpiry(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"name":"n","url":"u"}`))
	}))
	defer srv.Close()

	c, _ := New("k", WithAPIURL(srv.URL))
	room, err := c.CreateRoom(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["properties"]; ok {
		t.Errorf("properties sent without expiry: %v", raw)
	}
	if !room.ExpiresAt.IsZero() || room.PrettyExpiration() != "Never" {
		t.Errorf("room = %+v", room)
	}
}

func TestCreateRoom_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"authentication-error"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := New("bad", WithAPIURL(srv.URL))
	_, err := c.CreateRoom(context.Background(), 10)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusUnauthorized || !strings.Contains(se.Body, "authentication-error") {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestCreateRoom_RateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"n","url":"u"}`))
	}))
	defer srv.Close()

	c, _ := New("k", WithAPIURL(srv.URL), WithRateLimit(rate.Every(time.Hour), 1))
	if _, err := c.CreateRoom(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.CreateRoom(ctx, 0); err == nil {
		t.Error("expected throttled call to fail when the context ends")
	}
}

func TestLocal_CreateRoom(t *testing.T) {
	l := &Local{BaseURL: "http://localhost:8000/", Now: func() time.Time { return fixedNow }}
	room, err := l.CreateRoom(context.Background(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if !roomNameRE.MatchString(room.Name) {
		t.Errorf("Name = %q", room.Name)
	}
	if want := "http://localhost:8000/rooms/" + room.Name + "/audio"; room.URL != want {
		t.Errorf("URL = %q, want %q", room.URL, want)
	}
	if !room.ExpiresAt.Equal(fixedNow.Add(30 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", room.ExpiresAt)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.CreateRoom(ctx, 0); err == nil {
		t.Error("expected error for cancelled context")
	}
}
