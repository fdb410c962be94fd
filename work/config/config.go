package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Config holds all runtime configuration for the playback engine: resolver
// timeouts, quality selection targets, prefetch windows, watch-party
// throttles and storage paths. Values come from a JSON file with durations
// written as strings (e.g. "650ms"), validated and defaulted on load.
type Config struct {
	ListenAddr    string // HTTP listen address, e.g. ":8080"
	LogLevel      string // debug/info/warn/error
	Debug         bool   // Extra diagnostic logging
	ObfuscateUrls bool   // Obfuscate resolved URLs in logs
	DatabasePath  string // SQLite database path for progress and party documents
	WorkerThreads int    // Size of the shared prefetch worker pool
	UserAgent     string // Default User-Agent for origin requests

	ScrapeEndpoint string        // Base URL of the scraping collaborator
	ScrapeTimeout  time.Duration // Timeout for a single scrape call
	SourceOrder    []string      // Preferred scraper source ordering

	ResolvePollBudget    time.Duration // Max time to wait for a prefetched scrape result
	ResolvePollEarlyExit time.Duration // Give up early if the cache is empty after this long
	ResolvePollInterval  time.Duration // Poll spacing while waiting on the cache
	PrefetchedResultTTL  time.Duration // How long a prefetched scrape result stays usable

	SubtitleProviderA string        // Primary fallback subtitle API base URL
	SubtitleProviderB string        // Secondary fallback subtitle API base URL
	SubtitleLimit     int           // Per-provider result cap
	SubtitleTimeout   time.Duration // Timeout per provider request

	TargetHeight int // Preferred vertical resolution for compatibility ordering
	MaxHeight    int // Hard cap; variants above this are penalized heavily

	PrefetchWindow        time.Duration // Forward window of segment durations to warm
	PrefetchMaxSegments   int           // Hard cap on segments per warm cycle
	PrefetchConcurrency   int           // Concurrent range requests per warm cycle
	PrefetchInterval      time.Duration // Warm cycle spacing while playing
	PrefetchStallInterval time.Duration // Tighter spacing while the player is buffering
	PrefetchSeenCap       int           // Seen-set size that triggers a wholesale clear
	PrefetchTimeout       time.Duration // Timeout per manifest or segment request
	LiveTailSegments      int           // Segments taken from the live edge for live playlists

	PartyPublishPlaying time.Duration // Min spacing between host publishes while playing
	PartyPublishPaused  time.Duration // Min spacing between host publishes while paused
	PartyDriftThreshold time.Duration // Local/remote divergence below this is left alone
	PartyEndClamp       time.Duration // Keep-away margin from the end of the media

	BufferingPersistDelay time.Duration // How long buffering must persist before the stall check
	BufferingStallWindow  time.Duration // Overlay shows if position has not advanced for this long

	ProgressWriteInterval time.Duration // Min spacing between persisted progress writes
}

// ConfigFile mirrors Config for JSON marshaling, with durations as strings.
type ConfigFile struct {
	ListenAddr    string `json:"listenAddr"`
	LogLevel      string `json:"logLevel"`
	Debug         bool   `json:"debug"`
	ObfuscateUrls bool   `json:"obfuscateUrls"`
	DatabasePath  string `json:"databasePath"`
	WorkerThreads int    `json:"workerThreads"`
	UserAgent     string `json:"userAgent"`

	ScrapeEndpoint string   `json:"scrapeEndpoint"`
	ScrapeTimeout  string   `json:"scrapeTimeout"`
	SourceOrder    []string `json:"sourceOrder"`

	ResolvePollBudget    string `json:"resolvePollBudget"`
	ResolvePollEarlyExit string `json:"resolvePollEarlyExit"`
	ResolvePollInterval  string `json:"resolvePollInterval"`
	PrefetchedResultTTL  string `json:"prefetchedResultTTL"`

	SubtitleProviderA string `json:"subtitleProviderA"`
	SubtitleProviderB string `json:"subtitleProviderB"`
	SubtitleLimit     int    `json:"subtitleLimit"`
	SubtitleTimeout   string `json:"subtitleTimeout"`

	TargetHeight int `json:"targetHeight"`
	MaxHeight    int `json:"maxHeight"`

	PrefetchWindow        string `json:"prefetchWindow"`
	PrefetchMaxSegments   int    `json:"prefetchMaxSegments"`
	PrefetchConcurrency   int    `json:"prefetchConcurrency"`
	PrefetchInterval      string `json:"prefetchInterval"`
	PrefetchStallInterval string `json:"prefetchStallInterval"`
	PrefetchSeenCap       int    `json:"prefetchSeenCap"`
	PrefetchTimeout       string `json:"prefetchTimeout"`
	LiveTailSegments      int    `json:"liveTailSegments"`

	PartyPublishPlaying string `json:"partyPublishPlaying"`
	PartyPublishPaused  string `json:"partyPublishPaused"`
	PartyDriftThreshold string `json:"partyDriftThreshold"`
	PartyEndClamp       string `json:"partyEndClamp"`

	BufferingPersistDelay string `json:"bufferingPersistDelay"`
	BufferingStallWindow  string `json:"bufferingStallWindow"`

	ProgressWriteInterval string `json:"progressWriteInterval"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// defaultConfigPath is where LoadConfig looks unless PLAYCORE_CONFIG is set.
const defaultConfigPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached
// instance. Uses double-checked locking so concurrent callers never trigger
// redundant reloads; falls back to built-in defaults when the file is
// missing or invalid.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("PLAYCORE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config
	return config
}

// ClearConfigCache resets the cached config, forcing the next LoadConfig
// call to reload from disk.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cf ConfigFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&cf)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left at zero and picked up by the defaulting
// pass rather than treated as errors.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenAddr:          cf.ListenAddr,
		LogLevel:            cf.LogLevel,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
		DatabasePath:        cf.DatabasePath,
		WorkerThreads:       cf.WorkerThreads,
		UserAgent:           cf.UserAgent,
		ScrapeEndpoint:      cf.ScrapeEndpoint,
		SourceOrder:         cf.SourceOrder,
		SubtitleProviderA:   cf.SubtitleProviderA,
		SubtitleProviderB:   cf.SubtitleProviderB,
		SubtitleLimit:       cf.SubtitleLimit,
		TargetHeight:        cf.TargetHeight,
		MaxHeight:           cf.MaxHeight,
		PrefetchMaxSegments: cf.PrefetchMaxSegments,
		PrefetchConcurrency: cf.PrefetchConcurrency,
		PrefetchSeenCap:     cf.PrefetchSeenCap,
		LiveTailSegments:    cf.LiveTailSegments,
	}

	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cf.ScrapeTimeout, &config.ScrapeTimeout, "scrapeTimeout"},
		{cf.ResolvePollBudget, &config.ResolvePollBudget, "resolvePollBudget"},
		{cf.ResolvePollEarlyExit, &config.ResolvePollEarlyExit, "resolvePollEarlyExit"},
		{cf.ResolvePollInterval, &config.ResolvePollInterval, "resolvePollInterval"},
		{cf.PrefetchedResultTTL, &config.PrefetchedResultTTL, "prefetchedResultTTL"},
		{cf.SubtitleTimeout, &config.SubtitleTimeout, "subtitleTimeout"},
		{cf.PrefetchWindow, &config.PrefetchWindow, "prefetchWindow"},
		{cf.PrefetchInterval, &config.PrefetchInterval, "prefetchInterval"},
		{cf.PrefetchStallInterval, &config.PrefetchStallInterval, "prefetchStallInterval"},
		{cf.PrefetchTimeout, &config.PrefetchTimeout, "prefetchTimeout"},
		{cf.PartyPublishPlaying, &config.PartyPublishPlaying, "partyPublishPlaying"},
		{cf.PartyPublishPaused, &config.PartyPublishPaused, "partyPublishPaused"},
		{cf.PartyDriftThreshold, &config.PartyDriftThreshold, "partyDriftThreshold"},
		{cf.PartyEndClamp, &config.PartyEndClamp, "partyEndClamp"},
		{cf.BufferingPersistDelay, &config.BufferingPersistDelay, "bufferingPersistDelay"},
		{cf.BufferingStallWindow, &config.BufferingStallWindow, "bufferingStallWindow"},
		{cf.ProgressWriteInterval, &config.ProgressWriteInterval, "progressWriteInterval"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration with sensible defaults
// when no file is present.
func getDefaultConfig() *Config {
	return &Config{}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing or out-of-range ones.
func validateAndSetDefaults(config *Config) {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/data/playcore.db"
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}
	if config.ScrapeTimeout <= 0 {
		config.ScrapeTimeout = 15 * time.Second
	}
	if config.ResolvePollBudget <= 0 {
		config.ResolvePollBudget = 2500 * time.Millisecond
	}
	if config.ResolvePollEarlyExit <= 0 {
		config.ResolvePollEarlyExit = 650 * time.Millisecond
	}
	if config.ResolvePollInterval <= 0 {
		config.ResolvePollInterval = 100 * time.Millisecond
	}
	if config.PrefetchedResultTTL <= 0 {
		config.PrefetchedResultTTL = 30 * time.Second
	}
	if config.SubtitleLimit <= 0 {
		config.SubtitleLimit = 10
	}
	if config.SubtitleTimeout <= 0 {
		config.SubtitleTimeout = 8 * time.Second
	}
	if config.TargetHeight <= 0 {
		config.TargetHeight = 720
	}
	if config.MaxHeight <= 0 {
		config.MaxHeight = 1080
	}
	if config.PrefetchWindow <= 0 {
		config.PrefetchWindow = 30 * time.Second
	}
	if config.PrefetchMaxSegments <= 0 {
		config.PrefetchMaxSegments = 12
	}
	if config.PrefetchConcurrency <= 0 {
		config.PrefetchConcurrency = 4
	}
	if config.PrefetchInterval <= 0 {
		config.PrefetchInterval = 10 * time.Second
	}
	if config.PrefetchStallInterval <= 0 {
		config.PrefetchStallInterval = 4 * time.Second
	}
	if config.PrefetchSeenCap <= 0 {
		config.PrefetchSeenCap = 512
	}
	if config.PrefetchTimeout <= 0 {
		config.PrefetchTimeout = 10 * time.Second
	}
	if config.LiveTailSegments <= 0 {
		config.LiveTailSegments = 30
	}
	if config.PartyPublishPlaying <= 0 {
		config.PartyPublishPlaying = 500 * time.Millisecond
	}
	if config.PartyPublishPaused <= 0 {
		config.PartyPublishPaused = 2 * time.Second
	}
	if config.PartyDriftThreshold <= 0 {
		config.PartyDriftThreshold = 1500 * time.Millisecond
	}
	if config.PartyEndClamp <= 0 {
		config.PartyEndClamp = 250 * time.Millisecond
	}
	if config.BufferingPersistDelay <= 0 {
		config.BufferingPersistDelay = 650 * time.Millisecond
	}
	if config.BufferingStallWindow <= 0 {
		config.BufferingStallWindow = 700 * time.Millisecond
	}
	if config.ProgressWriteInterval <= 0 {
		config.ProgressWriteInterval = 15 * time.Second
	}
}

// CreateExampleConfig writes an example config file to the given path.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		ListenAddr:            ":8080",
		LogLevel:              "info",
		Debug:                 false,
		ObfuscateUrls:         true,
		DatabasePath:          "/data/playcore.db",
		WorkerThreads:         8,
		ScrapeEndpoint:        "http://scraper.internal:9000",
		ScrapeTimeout:         "15s",
		SourceOrder:           []string{"alpha", "bravo"},
		ResolvePollBudget:     "2500ms",
		ResolvePollEarlyExit:  "650ms",
		ResolvePollInterval:   "100ms",
		PrefetchedResultTTL:   "30s",
		SubtitleProviderA:     "https://sub.wyzie.ru",
		SubtitleProviderB:     "https://api.subsource.example",
		SubtitleLimit:         10,
		SubtitleTimeout:       "8s",
		TargetHeight:          720,
		MaxHeight:             1080,
		PrefetchWindow:        "30s",
		PrefetchMaxSegments:   12,
		PrefetchConcurrency:   4,
		PrefetchInterval:      "10s",
		PrefetchStallInterval: "4s",
		PrefetchSeenCap:       512,
		PrefetchTimeout:       "10s",
		LiveTailSegments:      30,
		PartyPublishPlaying:   "500ms",
		PartyPublishPaused:    "2s",
		PartyDriftThreshold:   "1500ms",
		PartyEndClamp:         "250ms",
		BufferingPersistDelay: "650ms",
		BufferingStallWindow:  "700ms",
		ProgressWriteInterval: "15s",
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
