package config

import (
	"os"
	"path/filepath"
	"strings"

	"doc-converter/internal/domain"
)

// defaultMaxCrawlPages bounds website conversions unless overridden.
const defaultMaxCrawlPages = 100

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		OutputDir:        filepath.Join(homeDir, "Documents", "Converted"),
		PandocPath:       "pandoc",
		FFmpegPath:       "ffmpeg",
		WhisperModelPath: filepath.Join(homeDir, ".doc-converter", "models"),
		Language:         "auto",
		MaxCrawlPages:    defaultMaxCrawlPages,
		UserAgent:        "doc-converter/1.0",
	}
}

// Normalize trims user inputs and fills defaulted fields.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.PandocPath = strings.TrimSpace(settings.PandocPath)
	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	settings.WhisperModelPath = strings.TrimSpace(settings.WhisperModelPath)
	settings.Language = strings.TrimSpace(settings.Language)
	settings.UserAgent = strings.TrimSpace(settings.UserAgent)

	if settings.PandocPath == "" {
		settings.PandocPath = defaults.PandocPath
	}
	if settings.FFmpegPath == "" {
		settings.FFmpegPath = defaults.FFmpegPath
	}
	if settings.Language == "" {
		settings.Language = defaults.Language
	}
	if settings.MaxCrawlPages <= 0 {
		settings.MaxCrawlPages = defaults.MaxCrawlPages
	}
	if settings.UserAgent == "" {
		settings.UserAgent = defaults.UserAgent
	}

	return settings
}
