package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"doc-converter/internal/jobs"
	"doc-converter/internal/transport"
)

// DocumentEngine converts documents and spreadsheets to Markdown with
// pandoc. It handles both single-file and batch requests, emitting per-unit
// progress on the conversion channels. A batch continues past individual
// failures; only a batch where every file fails terminates on the error
// channel.
type DocumentEngine struct {
	emitter    transport.Emitter
	logger     zerolog.Logger
	pandocPath string
	runner     commandRunner
	mkdirAll   func(string, os.FileMode) error
	stat       func(string) (os.FileInfo, error)
}

// NewDocumentEngine constructs the production document engine.
func NewDocumentEngine(emitter transport.Emitter, logger zerolog.Logger, pandocPath string) *DocumentEngine {
	if strings.TrimSpace(pandocPath) == "" {
		pandocPath = "pandoc"
	}
	return &DocumentEngine{
		emitter:    emitter,
		logger:     logger,
		pandocPath: pandocPath,
		runner:     &execRunner{},
		mkdirAll:   os.MkdirAll,
		stat:       os.Stat,
	}
}

// NewDocumentEngineForTests constructs an engine with injectable dependencies.
func NewDocumentEngineForTests(
	emitter transport.Emitter,
	logger zerolog.Logger,
	pandocPath string,
	runner commandRunner,
	mkdirAll func(string, os.FileMode) error,
	stat func(string) (os.FileInfo, error),
) *DocumentEngine {
	return &DocumentEngine{
		emitter:    emitter,
		logger:     logger,
		pandocPath: pandocPath,
		runner:     runner,
		mkdirAll:   mkdirAll,
		stat:       stat,
	}
}

// Convert runs the conversion and emits events correlated by the request's
// job id and per-file identifiers.
func (d *DocumentEngine) Convert(ctx context.Context, req jobs.EngineRequest) error {
	if len(req.Targets) == 0 {
		return &Error{Stage: "initializing", Message: "no input files"}
	}

	outputDir := strings.TrimSpace(req.Options.OutputDir)
	if outputDir == "" {
		return &Error{Stage: "initializing", Message: "output directory is required"}
	}
	if err := d.mkdirAll(outputDir, 0o755); err != nil {
		return &Error{
			Stage:   "initializing",
			Message: fmt.Sprintf("cannot create output directory: %s", outputDir),
			Err:     err,
		}
	}

	total := len(req.Targets)
	completed := 0
	errored := 0
	var lastErr error

	for _, target := range req.Targets {
		if err := ctx.Err(); err != nil {
			return err
		}

		d.emitter.EmitProgress(transport.ProgressEvent{
			ID:        req.JobID,
			File:      target,
			Status:    "processing",
			Completed: intPtr(completed),
			Errored:   intPtr(errored),
			Total:     intPtr(total),
		})

		if err := d.convertOne(ctx, target, outputDir); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errored++
			lastErr = err
			d.logger.Warn().Err(err).Str("file", target).Msg("document conversion failed")
			d.emitter.EmitStatus(transport.StatusEvent{
				ID:     req.JobID,
				File:   target,
				Status: "processing",
				Error:  err.Error(),
			})
		} else {
			completed++
		}

		d.emitter.EmitProgress(transport.ProgressEvent{
			ID:        req.JobID,
			File:      target,
			Completed: intPtr(completed),
			Errored:   intPtr(errored),
			Total:     intPtr(total),
		})
	}

	if completed == 0 {
		message := "all files failed to convert"
		if lastErr != nil {
			message = lastErr.Error()
		}
		d.emitter.EmitError(transport.ErrorEvent{ID: req.JobID, Error: message})
		return lastErr
	}

	d.emitter.EmitComplete(transport.CompleteEvent{ID: req.JobID})
	return nil
}

// convertOne runs pandoc for a single input file.
func (d *DocumentEngine) convertOne(ctx context.Context, target, outputDir string) error {
	if _, err := d.stat(target); err != nil {
		return &Error{
			Stage:   "converting",
			Message: fmt.Sprintf("cannot access input file: %s", target),
			Err:     err,
		}
	}

	outPath := filepath.Join(outputDir, markdownFileName(target))
	args := buildPandocArgs(target, outPath)

	result, err := d.runner.Run(ctx, d.pandocPath, args...)
	log := CommandLog{
		Command:  d.pandocPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if err != nil {
		return &Error{
			Stage:      "converting",
			Message:    fmt.Sprintf("pandoc conversion failed: %s", filepath.Base(target)),
			CommandLog: log,
			Err:        err,
		}
	}

	if _, err := d.stat(outPath); err != nil {
		return &Error{
			Stage:      "converting",
			Message:    "pandoc completed but output file is missing",
			CommandLog: log,
			Err:        err,
		}
	}
	return nil
}

// buildPandocArgs builds CLI args for Markdown output.
func buildPandocArgs(inputPath, outPath string) []string {
	return []string{
		inputPath,
		"--standalone",
		"-t", "gfm",
		"-o", outPath,
	}
}

// markdownFileName builds the output filename from the input name.
func markdownFileName(inputPath string) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "document"
	}
	return name + ".md"
}

func intPtr(v int) *int {
	return &v
}
