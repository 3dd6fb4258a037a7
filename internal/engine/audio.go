package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"doc-converter/internal/jobs"
)

// AudioEngine transcribes audio and video to Markdown using ffmpeg
// preprocessing and whisper.cpp. The transcription backend pushes no
// granular events, so the engine exposes a status query that the
// orchestrator polls until a terminal status appears.
type AudioEngine struct {
	logger      zerolog.Logger
	ffmpegPath  string
	whisperPath string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	mkdirAll    func(path string, perm os.FileMode) error
	readDir     func(name string) ([]os.DirEntry, error)
	readFile    func(name string) ([]byte, error)
	writeFile   func(name string, data []byte, perm os.FileMode) error

	mu     sync.Mutex
	status jobs.EngineStatus
}

// NewAudioEngine constructs the production audio engine.
func NewAudioEngine(logger zerolog.Logger, ffmpegPath string) *AudioEngine {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	return &AudioEngine{
		logger:      logger,
		ffmpegPath:  ffmpegPath,
		whisperPath: "whisper.cpp",
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		mkdirAll:    os.MkdirAll,
		readDir:     os.ReadDir,
		readFile:    os.ReadFile,
		writeFile:   os.WriteFile,
		status:      jobs.EngineStatus{Raw: "initializing"},
	}
}

// NewAudioEngineForTests constructs an engine with injectable dependencies.
func NewAudioEngineForTests(
	logger zerolog.Logger,
	ffmpegPath string,
	whisperPath string,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	stat func(name string) (os.FileInfo, error),
) *AudioEngine {
	return &AudioEngine{
		logger:      logger,
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		runner:      runner,
		mkdirTemp:   mkdirTemp,
		removeAll:   removeAll,
		stat:        stat,
		mkdirAll:    os.MkdirAll,
		readDir:     os.ReadDir,
		readFile:    os.ReadFile,
		writeFile:   os.WriteFile,
		status:      jobs.EngineStatus{Raw: "initializing"},
	}
}

// Status returns the most recent engine status for the polling loop.
func (a *AudioEngine) Status() jobs.EngineStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// setStatus records a raw status with optional progress percent.
func (a *AudioEngine) setStatus(raw string, progress int, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = jobs.EngineStatus{Raw: raw, Message: message, Progress: &progress}
}

// Convert runs preprocessing, transcription, and Markdown export for the
// single target of the request.
func (a *AudioEngine) Convert(ctx context.Context, req jobs.EngineRequest) error {
	a.setStatus("initializing", 0, "")

	err := a.convert(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			a.setStatus("cancelled", 0, "")
			return ctx.Err()
		}
		a.setStatus("failed", 0, err.Error())
		return err
	}

	a.setStatus("completed", 100, "")
	return nil
}

func (a *AudioEngine) convert(ctx context.Context, req jobs.EngineRequest) error {
	inputPath := strings.TrimSpace(req.Identifier)
	if inputPath == "" {
		return &Error{Stage: "preprocessing", Message: "input media path is required"}
	}
	if _, err := a.stat(inputPath); err != nil {
		return &Error{
			Stage:   "preprocessing",
			Message: fmt.Sprintf("cannot access input media: %s", inputPath),
			Err:     err,
		}
	}

	modelPath, err := a.resolveModelPath(req.Options.ModelPath)
	if err != nil {
		return &Error{Stage: "transcribing", Message: err.Error(), Err: err}
	}

	outputDir := strings.TrimSpace(req.Options.OutputDir)
	if outputDir == "" {
		return &Error{Stage: "exporting", Message: "output directory is required"}
	}
	if err := a.mkdirAll(outputDir, 0o755); err != nil {
		return &Error{
			Stage:   "exporting",
			Message: fmt.Sprintf("cannot create output directory: %s", outputDir),
			Err:     err,
		}
	}

	tempDir, err := a.mkdirTemp("", "doc-converter-*")
	if err != nil {
		return &Error{Stage: "preprocessing", Message: "failed to create temporary workspace", Err: err}
	}
	defer func() {
		_ = a.removeAll(tempDir)
	}()

	a.setStatus("preprocessing", 10, "")
	wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	args := buildFFmpegArgs(inputPath, wavPath)

	result, runErr := a.runner.Run(ctx, a.ffmpegPath, args...)
	log := CommandLog{Command: a.ffmpegPath, Args: args, ExitCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr}
	if runErr != nil {
		return &Error{Stage: "preprocessing", Message: "ffmpeg audio conversion failed", CommandLog: log, Err: runErr}
	}
	if _, err := a.stat(wavPath); err != nil {
		return &Error{Stage: "preprocessing", Message: "ffmpeg completed but output file is missing", CommandLog: log, Err: err}
	}

	a.setStatus("transcribing", 40, "")
	textBase := filepath.Join(tempDir, "transcript")
	whisperArgs := buildWhisperArgs(modelPath, wavPath, textBase, req.Options.Language)

	whisperResult, runErr := a.runner.Run(ctx, a.whisperPath, whisperArgs...)
	whisperLog := CommandLog{Command: a.whisperPath, Args: whisperArgs, ExitCode: whisperResult.ExitCode, Stdout: whisperResult.Stdout, Stderr: whisperResult.Stderr}
	if runErr != nil {
		return &Error{Stage: "transcribing", Message: "whisper.cpp transcription failed", CommandLog: whisperLog, Err: runErr}
	}

	textPath := textBase + ".txt"
	transcript, err := a.readFile(textPath)
	if err != nil {
		return &Error{Stage: "exporting", Message: "whisper.cpp completed but transcript file is missing", CommandLog: whisperLog, Err: err}
	}

	a.setStatus("exporting", 90, "")
	outPath := filepath.Join(outputDir, markdownFileName(inputPath))
	markdown := transcriptMarkdown(inputPath, string(transcript))
	if err := a.writeFile(outPath, []byte(markdown), 0o644); err != nil {
		return &Error{Stage: "exporting", Message: fmt.Sprintf("failed to write transcript: %s", outPath), Err: err}
	}

	return nil
}

// resolveModelPath returns the whisper model file from the configured file
// or directory.
func (a *AudioEngine) resolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("whisper model path is required")
	}

	info, err := a.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := a.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(names)
	return filepath.Join(modelPath, names[0]), nil
}

// transcriptMarkdown renders the transcript under a heading for the source.
func transcriptMarkdown(inputPath, transcript string) string {
	return "# " + filepath.Base(inputPath) + "\n\n" + strings.TrimSpace(transcript) + "\n"
}

// normalizeLanguage maps "auto" and empty language to no CLI override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// buildFFmpegArgs builds preprocessing args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}
