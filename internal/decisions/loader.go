package decisions

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/catherinevee/costopt/internal/logger"
)

// ruleFile is the on-disk YAML layout for a custom rule table
type ruleFile struct {
	Rules []Rule `yaml:"rules" validate:"required,min=1,dive"`
}

var validate = validator.New()

// LoadRulesFile reads and validates a YAML rule file. The file replaces
// the default table entirely.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	if err := validate.Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Rules))
	for _, r := range file.Rules {
		if seen[r.ID] {
			return nil, fmt.Errorf("invalid rules file %s: duplicate rule id %q", path, r.ID)
		}
		seen[r.ID] = true
	}

	return file.Rules, nil
}

// Watcher reloads an engine's rule table when the backing file changes
type Watcher struct {
	engine  *Engine
	path    string
	watcher *fsnotify.Watcher
	log     logger.Logger
	done    chan struct{}
}

// NewWatcher loads the rule file into the engine and starts watching it
// for changes. Call Close to stop watching.
func NewWatcher(engine *Engine, path string) (*Watcher, error) {
	ruleSet, err := LoadRulesFile(path)
	if err != nil {
		return nil, err
	}
	engine.SetRules(ruleSet)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch rules file: %w", err)
	}

	w := &Watcher{
		engine:  engine,
		path:    path,
		watcher: fw,
		log:     logger.New("decision-rules"),
		done:    make(chan struct{}),
	}

	go w.watchChanges()

	return w, nil
}

// Close stops the watcher
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) watchChanges() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			ruleSet, err := LoadRulesFile(w.path)
			if err != nil {
				// Keep the previous table on a bad reload
				w.log.Error("failed to reload decision rules",
					logger.String("path", w.path),
					logger.Error(err))
				continue
			}

			w.engine.SetRules(ruleSet)
			w.log.Info("decision rules reloaded",
				logger.String("path", w.path),
				logger.Int("rules", len(ruleSet)))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("rules file watcher error", logger.Error(err))
		}
	}
}
