// Package cartesia provides a Cartesia-backed TTS provider using the Cartesia
// WebSocket API. One synthesis stream maps to one Cartesia context, so
// sentences pushed in order are spoken with continuous prosody.
package cartesia

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nwang783/just-in-case/pkg/provider/tts"
	"github.com/nwang783/just-in-case/pkg/types"
)

const (
	defaultWSBase     = "wss://api.cartesia.ai"
	defaultAPIBase    = "https://api.cartesia.ai"
	defaultModel      = "sonic-english"
	defaultSampleRate = 16000
	apiVersion        = "2024-06-10"
)

// Option is a functional option for configuring the Cartesia Provider.
type Option func(*Provider)

// WithModel sets the Cartesia model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSampleRate sets the PCM output rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithLanguage sets the synthesis language code.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithBaseURLs overrides the WebSocket and REST base URLs.
func WithBaseURLs(wsBase, apiBase string) Option {
	return func(p *Provider) {
		p.wsBase = wsBase
		p.apiBase = apiBase
	}
}

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider backed by Cartesia.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
	wsBase     string
	apiBase    string
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Cartesia Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("cartesia: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   "en",
		sampleRate: defaultSampleRate,
		wsBase:     defaultWSBase,
		apiBase:    defaultAPIBase,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.sampleRate }

type voiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type outputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// generationRequest is one transcript fragment of a context. Continue is
// false on the closing fragment.
type generationRequest struct {
	ModelID      string       `json:"model_id"`
	Transcript   string       `json:"transcript"`
	Voice        voiceSpec    `json:"voice"`
	OutputFormat outputFormat `json:"output_format"`
	Language     string       `json:"language,omitempty"`
	ContextID    string       `json:"context_id"`
	Continue     bool         `json:"continue"`
}

type serverMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Done      bool   `json:"done"`
	ContextID string `json:"context_id"`
	Error     string `json:"error"`
}

func (p *Provider) streamURL() string {
	q := url.Values{}
	q.Set("api_key", p.apiKey)
	q.Set("cartesia_version", apiVersion)
	return p.wsBase + "/tts/websocket?" + q.Encode()
}

func (p *Provider) request(contextID, voiceID, transcript string, more bool) generationRequest {
	return generationRequest{
		ModelID:    p.model,
		Transcript: transcript,
		Voice:      voiceSpec{Mode: "id", ID: voiceID},
		OutputFormat: outputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: p.sampleRate,
		},
		Language:  p.language,
		ContextID: contextID,
		Continue:  more,
	}
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("cartesia: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("cartesia: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	contextID := uuid.NewString()
	audioCh := make(chan []byte, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		readDone := make(chan struct{})
		go func() {
			defer close(readDone)
			for {
				_, raw, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var msg serverMessage
				if err := json.Unmarshal(raw, &msg); err != nil || msg.ContextID != contextID {
					continue
				}
				switch msg.Type {
				case "chunk":
					pcm, err := base64.StdEncoding.DecodeString(msg.Data)
					if err != nil {
						continue
					}
					select {
					case audioCh <- pcm:
					case <-ctx.Done():
						return
					}
				case "done", "error":
					return
				}
				if msg.Done {
					return
				}
			}
		}()

		send := func(transcript string, more bool) error {
			b, _ := json.Marshal(p.request(contextID, voice.ID, transcript, more))
			return conn.Write(ctx, websocket.MessageText, b)
		}

		for {
			select {
			case sentence, ok := <-text:
				if !ok {
					if err := send("", false); err != nil {
						return
					}
					<-readDone
					return
				}
				if strings.TrimSpace(sentence) == "" {
					continue
				}
				if err := send(sentence+" ", true); err != nil {
					return
				}
			case <-readDone:
				go func() {
					for range text {
					}
				}()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioCh, nil
}

type voiceEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("cartesia: list voices: %w", err)
	}
	req.Header.Set("X-API-Key", p.apiKey)
	req.Header.Set("Cartesia-Version", apiVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cartesia: list voices: unexpected status %d", resp.StatusCode)
	}

	var voices []voiceEntry
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("cartesia: list voices decode: %w", err)
	}
	out := make([]types.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		out = append(out, types.VoiceProfile{
			ID:       v.ID,
			Name:     v.Name,
			Provider: "cartesia",
			Metadata: map[string]string{
				"description": v.Description,
				"language":    v.Language,
			},
		})
	}
	return out, nil
}
