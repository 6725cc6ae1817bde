package cartesia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nwang783/just-in-case/pkg/types"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestRequest(t *testing.T) {
	p, err := New("key", WithModel("sonic-2"), WithSampleRate(24000))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(p.request("ctx-1", "voice-1", "Hello. ", true))
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["model_id"] != "sonic-2" || got["context_id"] != "ctx-1" || got["continue"] != true {
		t.Errorf("request = %v", got)
	}
	voice := got["voice"].(map[string]any)
	if voice["mode"] != "id" || voice["id"] != "voice-1" {
		t.Errorf("voice = %v", voice)
	}
	format := got["output_format"].(map[string]any)
	if format["encoding"] != "pcm_s16le" || format["sample_rate"] != float64(24000) || format["container"] != "raw" {
		t.Errorf("output_format = %v", format)
	}
	if p.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d", p.SampleRate())
	}
}

func TestSynthesizeStream(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []generationRequest
		query    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		query = r.URL.RawQuery
		mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		// Audio for another context must be ignored by the client.
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"chunk","data":"AAAA","context_id":"other"}`))

		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var req generationRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return
			}
			mu.Lock()
			requests = append(requests, req)
			mu.Unlock()
			if !req.Continue {
				done, _ := json.Marshal(serverMessage{Type: "done", Done: true, ContextID: req.ContextID})
				_ = conn.Write(ctx, websocket.MessageText, done)
				return
			}
			chunk, _ := json.Marshal(serverMessage{
				Type:      "chunk",
				Data:      base64.StdEncoding.EncodeToString([]byte(req.Transcript)),
				ContextID: req.ContextID,
			})
			_ = conn.Write(ctx, websocket.MessageText, chunk)
		}
	}))
	defer srv.Close()

	p, err := New("secret", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 2)
	text <- "First sentence."
	text <- "Second sentence."
	close(text)

	audio, err := p.SynthesizeStream(ctx, text, types.VoiceProfile{ID: "voice-1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []string
	for chunk := range audio {
		got = append(got, string(chunk))
	}
	want := []string{"First sentence. ", "Second sentence. "}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("audio = %q, want %q", got, want)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(query, "api_key=secret") || !strings.Contains(query, "cartesia_version="+apiVersion) {
		t.Errorf("query = %q", query)
	}
	if len(requests) != 3 {
		t.Fatalf("server saw %d requests, want 3", len(requests))
	}
	if requests[0].ContextID == "" || requests[0].ContextID != requests[2].ContextID {
		t.Error("all fragments should share one context id")
	}
	if requests[2].Continue || requests[2].Transcript != "" {
		t.Errorf("closing request = %+v", requests[2])
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key" || r.Header.Get("Cartesia-Version") != apiVersion {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[{"id":"79a125e8","name":"British Lady","description":"calm","language":"en"}]`))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURLs("ws://unused", srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].Name != "British Lady" || voices[0].Provider != "cartesia" {
		t.Errorf("voices = %+v", voices)
	}
}
