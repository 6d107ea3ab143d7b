package agentconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references against the
// process environment, following the teacher's config env-interpolation
// convention.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})

	return envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) != 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// LoadEnvFile loads a .env file into the process environment if present.
// Absence of the file is not an error; a malformed file is.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("agentconfig: failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses one agent config file, interpolating environment
// variables before YAML decoding so substitutions can affect any scalar
// field (including numeric-looking ones, since interpolation happens on
// the raw text).
func Load(path string) (AgentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("agentconfig: failed to read %s: %w", path, err)
	}

	expanded := expandEnvVars(string(raw))

	var cfg AgentConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("agentconfig: failed to parse %s: %w", path, err)
	}
	cfg.Defaults()

	if cfg.Slug == "" {
		cfg.Slug = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return cfg, nil
}

// LoadAll loads every *.yaml/*.yml file in dir as an agent config, keyed by
// slug.
func LoadAll(dir string) (map[string]AgentConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("agentconfig: failed to read dir %s: %w", dir, err)
	}

	out := map[string]AgentConfig{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out[cfg.Slug] = cfg
	}
	return out, nil
}

// Watcher watches a directory of agent config files and invokes onChange
// with the reloaded config whenever a file is written or created.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
}

// NewWatcher starts watching dir for agent-config changes.
func NewWatcher(dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("agentconfig: failed to create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("agentconfig: failed to watch %s: %w", dir, err)
	}
	return &Watcher{watcher: fw, dir: dir}, nil
}

// Run blocks, invoking onChange(cfg) for every create/write event on
// a YAML file in the watched directory, until Close is called. Parse
// errors on a changed file are passed to onError rather than stopping the
// watch loop, so one bad edit doesn't kill hot-reload for every other
// agent.
func (w *Watcher) Run(onChange func(AgentConfig), onError func(error)) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			ext := filepath.Ext(event.Name)
			if ext != ".yaml" && ext != ".yml" {
				continue
			}
			cfg, err := Load(event.Name)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onChange(cfg)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
