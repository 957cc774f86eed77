package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/nidhogg/convograph/internal/filter"
	"github.com/nidhogg/convograph/internal/layout"
	"go.uber.org/zap"
)

// Settings is the persisted user-tunable state: query window, physics
// tuning, playback and filter configuration. One flat snapshot, written as
// JSON next to the app config.
type Settings struct {
	QueryHours int `json:"query_hours" validate:"gte=0"`
	QueryLimit int `json:"query_limit" validate:"gte=0"`

	PhysicsEnabled bool          `json:"physics_enabled"`
	Physics        layout.Config `json:"physics"`

	NodeSize   float64 `json:"node_size" validate:"gt=0"`
	ShowArrows bool    `json:"show_arrows"`

	TemporalEdges      bool    `json:"temporal_edges"`
	TemporalWindowSecs float64 `json:"temporal_window_secs" validate:"gte=0"`
	TemporalMaxEdges   int     `json:"temporal_max_edges" validate:"gte=0"`

	PlaybackSpeed       float64 `json:"playback_speed" validate:"gt=0"`
	LoopPlayback        bool    `json:"loop_playback"`
	TimelineWindowStart float64 `json:"timeline_window_start" validate:"gte=0,lte=1"`

	ToolUseMode         filter.Mode `json:"tool_use_mode" validate:"oneof=off inactive filtered"`
	ImportanceMode      filter.Mode `json:"importance_mode" validate:"oneof=off inactive filtered"`
	ImportanceThreshold float64     `json:"importance_threshold" validate:"gte=0,lte=1"`
	ProjectMode         filter.Mode `json:"project_mode" validate:"oneof=off inactive filtered"`
	HiddenProjects      []string    `json:"hidden_projects"`

	SemanticLimit int `json:"semantic_limit" validate:"gte=0"`

	// AutoRefreshSecs reloads the graph periodically; zero disables.
	AutoRefreshSecs int `json:"auto_refresh_secs" validate:"gte=0"`

	// LegacyImportanceFilter is the pre-tri-state on/off toggle. Read for
	// migration, never written back.
	LegacyImportanceFilter *bool `json:"importance_filter_enabled,omitempty"`
}

// Default returns the settings used on first run.
func Default() Settings {
	return Settings{
		QueryHours:          72,
		QueryLimit:          2000,
		PhysicsEnabled:      true,
		Physics:             layout.DefaultConfig(),
		NodeSize:            15,
		ShowArrows:          true,
		TemporalEdges:       false,
		TemporalWindowSecs:  300,
		TemporalMaxEdges:    5000,
		PlaybackSpeed:       3600,
		ToolUseMode:         filter.ModeOff,
		ImportanceMode:      filter.ModeOff,
		ImportanceThreshold: 0.5,
		ProjectMode:         filter.ModeOff,
		SemanticLimit:       100,
	}
}

// FilterConfig converts the snapshot's filter fields into engine config.
func (s Settings) FilterConfig() filter.Config {
	hidden := make(map[string]struct{}, len(s.HiddenProjects))
	for _, p := range s.HiddenProjects {
		hidden[p] = struct{}{}
	}
	return filter.Config{
		ToolUse:             s.ToolUseMode,
		Importance:          s.ImportanceMode,
		ImportanceThreshold: s.ImportanceThreshold,
		Project:             s.ProjectMode,
		HiddenProjects:      hidden,
	}
}

// Migrate fills gaps left by older snapshot formats: absent mode fields
// become off, and the legacy importance toggle maps onto the tri-state field
// unless an explicit tri-state value is present.
func (s *Settings) Migrate() {
	if s.ImportanceMode == "" {
		s.ImportanceMode = filter.ModeOff
		if s.LegacyImportanceFilter != nil && *s.LegacyImportanceFilter {
			s.ImportanceMode = filter.ModeFiltered
		}
	}
	s.LegacyImportanceFilter = nil
	if s.ToolUseMode == "" {
		s.ToolUseMode = filter.ModeOff
	}
	if s.ProjectMode == "" {
		s.ProjectMode = filter.ModeOff
	}
}

// Store loads and saves settings snapshots at a fixed path.
type Store struct {
	path     string
	validate *validator.Validate
	logger   *zap.Logger
}

// NewStore creates a store for the snapshot at path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:     path,
		validate: validator.New(),
		logger:   logger,
	}
}

// Load reads the snapshot, applying defaults when the file does not exist
// yet and migrating legacy fields. Corrupt or out-of-range snapshots are an
// error rather than silently replaced.
func (s *Store) Load() (Settings, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no settings snapshot, using defaults", zap.String("path", s.path))
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	// Mode fields start empty so a snapshot that omits them is
	// distinguishable from one that sets them to off; Migrate decides.
	cfg := Default()
	cfg.ToolUseMode = ""
	cfg.ImportanceMode = ""
	cfg.ProjectMode = ""
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	cfg.Migrate()
	if err := s.validate.Struct(cfg); err != nil {
		return Settings{}, fmt.Errorf("validate settings %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save validates and writes the snapshot atomically. Legacy fields are
// migrated first so a pre-tri-state payload persists in the current shape.
func (s *Store) Save(cfg Settings) error {
	cfg.Migrate()
	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate settings: %w", err)
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Watch reloads the snapshot whenever the file changes on disk and passes
// it to onChange. Blocks until ctx is done. Unreadable intermediate states
// (editors write in two steps) are logged and skipped.
func (s *Store) Watch(ctx context.Context, onChange func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which would drop a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != s.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := s.Load()
			if err != nil {
				s.logger.Warn("settings changed on disk but failed to load", zap.Error(err))
				continue
			}
			s.logger.Info("settings reloaded from disk")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}
