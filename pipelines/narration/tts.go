package narration

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1beta1"

	"readify/common"
)

// SynthesisRequest is one call to the speech service.
type SynthesisRequest struct {
	SSML      string
	Voice     string
	WithMarks bool
}

// SynthesisResult carries encoded audio and, when requested, the timepoints
// of every SSML mark.
type SynthesisResult struct {
	Audio      []byte
	Format     string // e.g. "mp3"
	Timepoints []Timepoint
}

// Synthesizer converts SSML to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)
}

// Global semaphore to limit concurrent TTS API requests
var globalTTSSem = make(chan struct{}, 2)

// GoogleTTSClient implements Synthesizer with Google Cloud Text-to-Speech.
// v1beta1 is required for SSML mark timepoints.
type GoogleTTSClient struct {
	svc      *texttospeech.Service
	language string
	timeout  time.Duration
	sem      chan struct{}
}

// NewGoogleTTSClient creates a client authenticated with an API key. Extra
// options are appended after the key (endpoint overrides in tests).
func NewGoogleTTSClient(ctx context.Context, apiKey, language string, timeout time.Duration, opts ...option.ClientOption) (*GoogleTTSClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_API_KEY: %w", common.ErrMissingCredential)
	}
	if language == "" {
		language = "en-US"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	svc, err := texttospeech.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tts client: %w", err)
	}

	return &GoogleTTSClient{
		svc:      svc,
		language: language,
		timeout:  timeout,
		sem:      globalTTSSem,
	}, nil
}

// Synthesize makes the API call. Failures are returned as-is; there is no
// retry.
func (c *GoogleTTSClient) Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for a synthesis slot: %w", ctx.Err())
	}

	body := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Ssml: req.SSML},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: c.language,
			Name:         req.Voice,
		},
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "MP3"},
	}
	if req.WithMarks {
		body.EnableTimePointing = []string{"SSML_MARK"}
	}

	log.Printf("[TTS] Synthesizing %d bytes of SSML with voice %s", len(req.SSML), req.Voice)
	start := time.Now()

	resp, err := c.svc.Text.Synthesize(body).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}

	audioStr := resp.AudioContent
	if idx := strings.Index(audioStr, ","); idx != -1 {
		audioStr = audioStr[idx+1:]
	}
	audio, err := base64.StdEncoding.DecodeString(audioStr)
	if err != nil {
		return nil, fmt.Errorf("decode audio content: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio in response")
	}

	result := &SynthesisResult{Audio: audio, Format: "mp3"}
	for _, tp := range resp.Timepoints {
		if tp == nil {
			continue
		}
		result.Timepoints = append(result.Timepoints, Timepoint{MarkName: tp.MarkName, TimeSeconds: tp.TimeSeconds})
	}

	log.Printf("[TTS] Received %d bytes of audio and %d timepoints in %.2fs",
		len(audio), len(result.Timepoints), time.Since(start).Seconds())
	return result, nil
}
