package elevenlabs

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

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for a non-PCM output format")
	}
}

func TestSampleRate(t *testing.T) {
	tests := []struct {
		format string
		want   int
	}{
		{"pcm_16000", 16000},
		{"pcm_24000", 24000},
		{"pcm_44100", 44100},
	}
	for _, tc := range tests {
		p, err := New("key", WithOutputFormat(tc.format))
		if err != nil {
			t.Fatalf("New(%s): %v", tc.format, err)
		}
		if got := p.SampleRate(); got != tc.want {
			t.Errorf("SampleRate(%s) = %d, want %d", tc.format, got, tc.want)
		}
	}
}

func TestStreamURL(t *testing.T) {
	p, err := New("key", WithModel("eleven_turbo_v2_5"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatal(err)
	}
	got := p.streamURL("voice-123")
	want := "wss://api.elevenlabs.io/v1/text-to-speech/voice-123/stream-input?model_id=eleven_turbo_v2_5&output_format=pcm_24000"
	if got != want {
		t.Errorf("streamURL = %q, want %q", got, want)
	}
}

func TestDecodeAudio(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	enc := base64.StdEncoding.EncodeToString(pcm)

	tests := []struct {
		name      string
		msg       string
		wantOK    bool
		wantFinal bool
	}{
		{"audio chunk", `{"audio":"` + enc + `","isFinal":false}`, true, false},
		{"final marker", `{"audio":"","isFinal":true}`, false, true},
		{"error", `{"error":"quota exceeded"}`, false, true},
		{"bad base64", `{"audio":"!!!","isFinal":false}`, false, false},
		{"not json", `{oops`, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, final, ok := decodeAudio([]byte(tc.msg))
			if ok != tc.wantOK || final != tc.wantFinal {
				t.Fatalf("decodeAudio = (_, %v, %v), want (_, %v, %v)", final, ok, tc.wantFinal, tc.wantOK)
			}
			if ok && string(got) != string(pcm) {
				t.Errorf("pcm = %v, want %v", got, pcm)
			}
		})
	}
}

func TestSettingsFor(t *testing.T) {
	vs := settingsFor(types.VoiceProfile{ID: "v", SpeedFactor: 1.1})
	if vs.Speed != 1.1 || vs.Stability != 0.5 || vs.SimilarityBoost != 0.75 {
		t.Errorf("settingsFor = %+v", vs)
	}
	if settingsFor(types.VoiceProfile{ID: "v"}).Speed != 0 {
		t.Error("zero SpeedFactor should leave speed unset")
	}
}

func TestSynthesizeStream(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
		key   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		key = r.Header.Get("xi-api-key")
		mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var in textMessage
			if err := json.Unmarshal(msg, &in); err != nil {
				return
			}
			mu.Lock()
			texts = append(texts, in.Text)
			mu.Unlock()
			switch in.Text {
			case " ":
			case "":
				_ = conn.Write(ctx, websocket.MessageText, []byte(`{"audio":"","isFinal":true}`))
				return
			default:
				out, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString([]byte(in.Text))})
				_ = conn.Write(ctx, websocket.MessageText, out)
			}
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
	text <- "Let's begin."
	text <- "   "
	close(text)

	audio, err := p.SynthesizeStream(ctx, text, types.VoiceProfile{ID: "voice-1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []string
	for chunk := range audio {
		got = append(got, string(chunk))
	}
	if len(got) != 1 || got[0] != "Let's begin. " {
		t.Errorf("audio = %q, want one chunk echoing the sentence", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if key != "secret" {
		t.Errorf("xi-api-key = %q", key)
	}
	want := []string{" ", "Let's begin. ", ""}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Errorf("server received %q, want %q", texts, want)
	}
}

func TestSynthesizeStream_RequiresVoice(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.SynthesizeStream(context.Background(), make(chan string), types.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
}

func TestListVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "bad request", http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"voices":[{"voice_id":"abc","name":"Rachel","category":"premade","labels":{"accent":"american"}}]}`))
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
	if len(voices) != 1 {
		t.Fatalf("got %d voices, want 1", len(voices))
	}
	v := voices[0]
	if v.ID != "abc" || v.Name != "Rachel" || v.Provider != "elevenlabs" {
		t.Errorf("voice = %+v", v)
	}
	if v.Metadata["accent"] != "american" || v.Metadata["category"] != "premade" {
		t.Errorf("metadata = %v", v.Metadata)
	}

	bad, err := New("wrong", WithBaseURLs("ws://unused", srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bad.ListVoices(context.Background()); err == nil {
		t.Error("expected error for non-200 status")
	}
}
