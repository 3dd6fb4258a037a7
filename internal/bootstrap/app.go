// Package bootstrap wires configuration, the conversion core, engines, and
// the Wails UI runtime together.
package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"doc-converter/internal/config"
	"doc-converter/internal/diagnostics"
	"doc-converter/internal/domain"
	"doc-converter/internal/engine"
	"doc-converter/internal/jobs"
	"doc-converter/internal/logging"
	"doc-converter/internal/transport"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// stateEventName is the Wails event carrying job snapshots to the frontend.
const stateEventName = "conversion:state"

// workerBridgeEnv names the env var enabling the external worker socket.
const workerBridgeEnv = "DOC_CONVERTER_WORKER_ADDR"

var documentDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Convertible files",
		Pattern:     "*.docx;*.doc;*.odt;*.rtf;*.html;*.epub;*.xlsx;*.ods;*.csv;*.mp4;*.mov;*.mkv;*.mp3;*.wav;*.m4a;*.flac",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// audioExtensions routes FILE conversions to the transcription engine.
var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".flac": true, ".aac": true,
	".ogg": true, ".mp4": true, ".mov": true, ".mkv": true, ".avi": true,
	".webm": true,
}

// App wires settings, diagnostics, the conversion orchestrator, and UI
// runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport

	assets       fs.FS
	checker      *diagnostics.Checker
	logger       zerolog.Logger
	bus          *transport.MemoryBus
	bridge       *transport.SocketBridge
	orchestrator *jobs.Orchestrator

	mu         sync.Mutex
	runtimeCtx context.Context
}

// New builds the application with persisted settings and startup
// diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded
// frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".doc-converter", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)
	logger := logging.New()

	app := &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		logger:      logger,
	}
	app.buildConversionCore(settings)
	return app, nil
}

// buildConversionCore assembles the event bus, store, registry, engines,
// and orchestrator, and routes store snapshots to the frontend.
func (a *App) buildConversionCore(settings domain.Settings) {
	bus := transport.NewMemoryBus()
	store := jobs.NewStore(jobs.NewTimer())
	aggregator := jobs.NewAggregator(store)
	registry := jobs.NewRegistry(bus, store, aggregator, a.logger)

	documentEngine := engine.NewDocumentEngine(bus, a.logger, settings.PandocPath)
	audioEngine := engine.NewAudioEngine(a.logger, settings.FFmpegPath)
	websiteEngine := engine.NewWebsiteEngine(bus, a.logger)

	a.bus = bus
	a.bridge = transport.NewSocketBridge(bus, a.logger)
	a.orchestrator = jobs.NewOrchestrator(jobs.OrchestratorConfig{
		Store:      store,
		Registry:   registry,
		Aggregator: aggregator,
		Engines: map[domain.JobKind]jobs.Engine{
			domain.JobKindFile:    documentEngine,
			domain.JobKindBatch:   documentEngine,
			domain.JobKindWebsite: websiteEngine,
		},
		Selector: func(kind domain.JobKind, identifier string) jobs.Engine {
			if kind == domain.JobKindFile && audioExtensions[strings.ToLower(filepath.Ext(identifier))] {
				return audioEngine
			}
			return nil
		},
		Logger: a.logger,
	})

	store.Subscribe(func(job domain.Job) {
		a.mu.Lock()
		ctx := a.runtimeCtx
		a.mu.Unlock()
		if ctx != nil {
			wailsruntime.EventsEmit(ctx, stateEventName, job)
		}
	})
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	if addr := os.Getenv(workerBridgeEnv); addr != "" {
		go a.serveWorkerBridge(addr)
	}

	return wails.Run(&options.App{
		Title:       "Document Converter",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.orchestrator.Close()
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// serveWorkerBridge exposes the worker event socket for out-of-process
// converters.
func (a *App) serveWorkerBridge(addr string) {
	a.logger.Info().Str("addr", addr).Msg("worker bridge listening")
	if err := http.ListenAndServe(addr, a.bridge); err != nil {
		a.logger.Error().Err(err).Msg("worker bridge stopped")
	}
}

// Startup stores the Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	return a.Diagnostics, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings persists settings and refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// PickInputFile opens a native file dialog for a single input file.
func (a *App) PickInputFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select file to convert",
		Filters: documentDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickInputFiles opens a native multi-select dialog for batch input.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select files to convert",
		Filters: documentDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// PickOutputDirectory opens a native directory picker for converted output.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select output directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// StartFileConversion starts converting one file and returns the initial
// job snapshot.
func (a *App) StartFileConversion(path string) (domain.Job, error) {
	opts, err := a.convertOptions()
	if err != nil {
		return domain.Job{}, err
	}

	if _, err := a.orchestrator.ConvertFile(context.Background(), strings.TrimSpace(path), opts); err != nil {
		return domain.Job{}, err
	}
	return a.orchestrator.Store().Snapshot(), nil
}

// StartBatchConversion starts converting multiple files.
func (a *App) StartBatchConversion(paths []string) (domain.Job, error) {
	opts, err := a.convertOptions()
	if err != nil {
		return domain.Job{}, err
	}

	if _, err := a.orchestrator.ConvertBatch(context.Background(), paths, opts); err != nil {
		return domain.Job{}, err
	}
	return a.orchestrator.Store().Snapshot(), nil
}

// StartWebsiteConversion starts crawling and converting a website.
func (a *App) StartWebsiteConversion(url string) (domain.Job, error) {
	opts, err := a.convertOptions()
	if err != nil {
		return domain.Job{}, err
	}

	if _, err := a.orchestrator.ConvertWebsite(context.Background(), strings.TrimSpace(url), opts); err != nil {
		return domain.Job{}, err
	}
	return a.orchestrator.Store().Snapshot(), nil
}

// CancelConversion cooperatively cancels the active job, if any.
func (a *App) CancelConversion() {
	a.orchestrator.Cancel()
}

// ResetConversion clears the job state back to idle.
func (a *App) ResetConversion() {
	a.orchestrator.Reset()
}

// CurrentJob returns the current job snapshot.
func (a *App) CurrentJob() domain.Job {
	return a.orchestrator.Store().Snapshot()
}

// ActiveRegistrations lists job ids with live handler registrations.
func (a *App) ActiveRegistrations() []string {
	return a.orchestrator.Registry().ActiveJobs()
}

// convertOptions builds per-request options from the latest settings.
func (a *App) convertOptions() (jobs.ConvertOptions, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return jobs.ConvertOptions{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return jobs.ConvertOptions{
		OutputDir: settings.OutputDir,
		ModelPath: settings.WhisperModelPath,
		Language:  settings.Language,
		MaxPages:  settings.MaxCrawlPages,
		UserAgent: settings.UserAgent,
	}, nil
}

// runtimeContext returns the Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}
