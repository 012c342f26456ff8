package main

import (
	"context"
	"flag"
	"log"
	"runtime"
	"time"

	"readify/common"
	"readify/follow"
	"readify/pipelines/narration"
	"readify/pipelines/study"
)

func main() {
	voice := flag.String("voice", common.DefaultVoice, "Narration voice ID (see GET /voices)")
	outDir := flag.String("out", "", "Output directory (default ./output/output_<timestamp>)")
	followDir := flag.String("follow", "", "Follow along a generated narration directory in the terminal")
	serverMode := flag.Bool("server", false, "Run as HTTP server")
	port := flag.String("port", ":8080", "Server port (only with --server)")
	workers := flag.Int("workers", runtime.NumCPU(), "Number of worker goroutines (only with --server)")
	flag.Parse()

	if *serverMode {
		StartServer(*port, *workers)
		return
	}

	if *followDir != "" {
		if err := follow.Run(*followDir); err != nil {
			log.Fatalf("Follow failed: %v", err)
		}
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		log.Fatal("Usage: go run . [--voice=ID] [--out=DIR] <document>\n       go run . --follow <narration dir>\n       go run . --server [--port=:8080] [--workers=4]")
	}
	if !common.KnownVoice(*voice) {
		log.Fatalf("Unknown voice %q", *voice)
	}

	cfg := common.LoadConfig()
	config := common.PipelineConfig{
		SourcePath: args[0],
		OutputDir:  *outDir,
		Voice:      *voice,
		Config:     cfg,
	}
	if config.OutputDir == "" {
		config.OutputDir = "./output/output_" + time.Now().Format("20060102_150405")
	}

	ctx := context.Background()
	synth, err := narration.NewGoogleTTSClient(ctx, cfg.TTSKey, cfg.TTSLanguage, cfg.TTSTimeout)
	if err != nil {
		log.Fatalf("Please set GOOGLE_CLOUD_API_KEY environment variable: %v", err)
	}

	var summarizer narration.Summarizer
	gemini, err := common.NewGeminiClient(ctx, cfg.GeminiKey, cfg.GeminiModel, cfg.GeminiRPS)
	if err != nil {
		log.Printf("Skipping summary: %v", err)
	} else {
		defer gemini.Close()
		summarizer = study.NewService(gemini)
	}

	log.Println("Running Narration Pipeline...")
	manifest, err := narration.ProcessNarrationPipeline(ctx, config, synth, summarizer)
	if err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	log.Printf("Pipeline completed successfully! Output in %s", config.OutputDir)
	log.Printf("Follow along with: go run . --follow %s (%d/%d sentences narrated)",
		config.OutputDir, manifest.Narrated, len(manifest.Sentences))
}
