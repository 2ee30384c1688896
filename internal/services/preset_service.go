package services

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"seatcheck/internal/config"
	"seatcheck/internal/models"
)

// PresetService serves the preset catalog and hot-reloads it when the
// presets file changes on disk.
type PresetService struct {
	mu       sync.RWMutex
	filePath string
	presets  []models.PresetInfo
}

// NewPresetService loads the catalog from filePath; an unreadable or missing
// file falls back to the built-in defaults.
func NewPresetService(filePath string) *PresetService {
	s := &PresetService{filePath: filePath}
	s.reload()
	return s
}

func (s *PresetService) reload() {
	presets, err := config.LoadPresets(s.filePath)
	if err != nil {
		log.Printf("⚠️  Failed to load presets from %s, using defaults: %v", s.filePath, err)
		presets = models.DefaultPresets
	}

	s.mu.Lock()
	s.presets = presets
	s.mu.Unlock()
	log.Printf("📌 [PRESETS] Loaded %d presets", len(presets))
}

// All returns a copy of the preset catalog.
func (s *PresetService) All() []models.PresetInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PresetInfo(nil), s.presets...)
}

// Get looks a preset up by id.
func (s *PresetService) Get(preset models.Preset) (models.PresetInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, info := range s.presets {
		if info.ID == preset {
			return info, true
		}
	}
	return models.PresetInfo{}, false
}

// Watch hot-reloads the catalog when the presets file changes. Blocks; run it
// in a goroutine.
func (s *PresetService) Watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}

	absPath, err := filepath.Abs(s.filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", s.filePath, err)
		watcher.Close()
		return
	}

	// Watch the directory containing the file (more reliable than watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		watcher.Close()
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", s.filePath)

	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filename {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					log.Printf("🔄 Detected changes in %s, reloading presets...", s.filePath)
					s.reload()
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
