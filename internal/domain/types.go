package domain

import "time"

// JobKind distinguishes the three conversion shapes the app supports.
type JobKind string

const (
	JobKindFile    JobKind = "file"
	JobKindBatch   JobKind = "batch"
	JobKindWebsite JobKind = "website"
)

// Phase is the canonical lifecycle status shared by every converter kind.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhasePreparing    Phase = "preparing"
	PhaseConverting   Phase = "converting"
	PhaseCompleted    Phase = "completed"
	PhaseError        Phase = "error"
	PhaseCancelled    Phase = "cancelled"
	PhaseCleaningUp   Phase = "cleaning_up"
)

// Terminal reports whether a phase permits no further lifecycle updates.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseError, PhaseCancelled:
		return true
	default:
		return false
	}
}

// Counts tracks per-unit outcomes for batch and website jobs.
// Processed is always Completed + Errored.
type Counts struct {
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// WebsiteStats carries crawl-only counters for website jobs.
// DiscoveredURLs is always SitemapURLs + CrawledURLs.
type WebsiteStats struct {
	DiscoveredURLs int            `json:"discoveredUrls"`
	SitemapURLs    int            `json:"sitemapUrls"`
	CrawledURLs    int            `json:"crawledUrls"`
	SectionCounts  map[string]int `json:"sectionCounts,omitempty"`
	ETASeconds     int            `json:"estimatedTimeRemaining"`
}

// Job is the single live conversion tracked by the state store.
type Job struct {
	ID             string       `json:"id"`
	Kind           JobKind      `json:"kind"`
	Status         Phase        `json:"status"`
	Progress       int          `json:"progress"`
	CurrentUnit    string       `json:"currentUnit,omitempty"`
	Counts         Counts       `json:"counts"`
	Error          string       `json:"error,omitempty"`
	StartTime      time.Time    `json:"startTime,omitempty"`
	CompletionTime time.Time    `json:"completionTime,omitempty"`
	Elapsed        string       `json:"elapsed"`
	Website        WebsiteStats `json:"website"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir        string `json:"outputDir"`
	PandocPath       string `json:"pandocPath"`
	FFmpegPath       string `json:"ffmpegPath"`
	WhisperModelPath string `json:"whisperModelPath"`
	Language         string `json:"language"`
	MaxCrawlPages    int    `json:"maxCrawlPages"`
	UserAgent        string `json:"userAgent"`
}
