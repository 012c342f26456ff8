package narration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"readify/common"
)

const (
	ManifestFile = "narration.json"
	AudioFile    = "narration.mp3"
	SummaryFile  = "summary.md"
)

// Manifest describes a generated narration: the full sentence list, which
// prefix of it was narrated, and the mark timings of the audio.
type Manifest struct {
	Source     string      `json:"source"`
	Title      string      `json:"title,omitempty"`
	Voice      string      `json:"voice"`
	Audio      string      `json:"audio"`
	Sentences  []Sentence  `json:"sentences"`
	Pages      PageMap     `json:"pages,omitempty"`
	Narrated   int         `json:"narrated_sentences"`
	Timepoints []Timepoint `json:"timepoints"`
}

// Summarizer produces a study summary of document text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Narrate synthesizes the longest sentence prefix that fits maxBytes of SSML
// and returns the audio together with the sentences it covers.
func Narrate(ctx context.Context, synth Synthesizer, sentences []Sentence, voice string, maxBytes int) (*SynthesisResult, []Sentence, error) {
	narrated := FitSentences(sentences, maxBytes)
	if len(narrated) == 0 {
		return nil, nil, common.ErrNoText
	}
	if len(narrated) < len(sentences) {
		log.Printf("[NARRATION] Synthesizing %d of %d sentences (SSML limit %d bytes)",
			len(narrated), len(sentences), maxBytes)
	}

	result, err := synth.Synthesize(ctx, SynthesisRequest{
		SSML:      BuildSSML(narrated),
		Voice:     voice,
		WithMarks: true,
	})
	if err != nil {
		return nil, nil, err
	}
	return result, narrated, nil
}

// ProcessNarrationPipeline executes the offline document to narration workflow.
// summarizer may be nil, in which case no summary is written.
func ProcessNarrationPipeline(ctx context.Context, config common.PipelineConfig, synth Synthesizer, summarizer Summarizer) (*Manifest, error) {
	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	log.Printf("[NARRATION] Starting pipeline for %s -> %s", config.SourcePath, config.OutputDir)

	// 1. Extract text
	log.Println("[NARRATION] Step 1: Extracting text...")
	doc, err := common.Extract(config.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("text extraction failed: %w", err)
	}
	text := doc.Text()
	log.Printf("[NARRATION] Extracted %d chars from %d pages", len(text), len(doc.Pages))
	if text == "" {
		return nil, common.ErrNoText
	}

	// 2. Segment
	log.Println("[NARRATION] Step 2: Segmenting sentences...")
	sentences, pages := SegmentPages(doc.Pages)
	log.Printf("[NARRATION] Found %d sentences", len(sentences))

	// 3. Audio and summary in parallel
	log.Println("[NARRATION] Step 3: Generating audio and summary...")
	manifest := &Manifest{
		Source:    filepath.Base(config.SourcePath),
		Title:     doc.Title,
		Voice:     config.Voice,
		Audio:     AudioFile,
		Sentences: sentences,
		Pages:     pages,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, narrated, err := Narrate(gctx, synth, sentences, config.Voice, config.MaxSynthesisBytes)
		if err != nil {
			return fmt.Errorf("audio generation failed: %w", err)
		}
		manifest.Narrated = len(narrated)
		manifest.Timepoints = NewTimepointMap(result.Timepoints, len(narrated)).Timepoints()
		return os.WriteFile(filepath.Join(config.OutputDir, AudioFile), result.Audio, 0644)
	})
	if summarizer != nil {
		g.Go(func() error {
			summary, err := summarizer.Summarize(gctx, text)
			if err != nil {
				log.Printf("[NARRATION] Summary failed: %v", err)
				return nil
			}
			return os.WriteFile(filepath.Join(config.OutputDir, SummaryFile), []byte(summary), 0644)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 4. Manifest
	log.Println("[NARRATION] Step 4: Writing manifest...")
	if err := SaveManifest(config.OutputDir, manifest); err != nil {
		return nil, err
	}

	log.Printf("[NARRATION] Pipeline complete! %d/%d sentences narrated, %d timepoints",
		manifest.Narrated, len(manifest.Sentences), len(manifest.Timepoints))
	return manifest, nil
}

// SaveManifest writes the manifest as indented JSON into dir.
func SaveManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644)
}

// LoadManifest reads the manifest written by SaveManifest.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}
