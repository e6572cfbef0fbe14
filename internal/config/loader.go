package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known embedding provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "ollama"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	validateProviderName("providers.embeddings", cfg.Providers.Embeddings.Name)
	if fb := cfg.Providers.EmbeddingsFallback; fb != nil {
		if fb.Name == "" {
			errs = append(errs, errors.New("providers.embeddings_fallback.name is required when the block is present"))
		}
		validateProviderName("providers.embeddings_fallback", fb.Name)
	}

	// Corpus sources
	if len(cfg.Corpus.Sources) == 0 {
		errs = append(errs, errors.New("corpus.sources must list at least one source"))
	}
	sourceNames := make(map[string]int, len(cfg.Corpus.Sources))
	for i, src := range cfg.Corpus.Sources {
		prefix := fmt.Sprintf("corpus.sources[%d]", i)
		if !src.Type.IsValid() {
			errs = append(errs, fmt.Errorf("%s.type %q is invalid; valid values: phrases, articles", prefix, src.Type))
		}
		if src.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
		// Record ids are prefixed with the source name, so two sources
		// resolving to the same name would silently overwrite each other's
		// patterns in the index.
		if name := effectiveSourceName(src); name != "" {
			if j, dup := sourceNames[name]; dup {
				errs = append(errs, fmt.Errorf("%s resolves to source name %q, already used by corpus.sources[%d]; set distinct names", prefix, name, j))
			} else {
				sourceNames[name] = i
			}
		}
	}
	if cfg.Corpus.WatchInterval != "" {
		if _, err := time.ParseDuration(cfg.Corpus.WatchInterval); err != nil {
			errs = append(errs, fmt.Errorf("corpus.watch_interval %q is not a duration: %v", cfg.Corpus.WatchInterval, err))
		}
	}

	// Risk thresholds — validated on the merged policy so partial overrides
	// are checked against the applied defaults.
	if err := cfg.Risk.ToPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("risk: %w", err))
	}

	// Storage
	if cfg.Storage.PostgresDSN != "" && cfg.Storage.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("storage.embedding_dimensions is required when storage.postgres_dsn is set"))
	}
	if cfg.Storage.PostgresDSN != "" && cfg.Storage.SnapshotPath != "" {
		slog.Warn("storage.snapshot_path is ignored when storage.postgres_dsn is set")
	}

	return errors.Join(errs...)
}

// effectiveSourceName returns the name a source will carry in record ids:
// the configured override, or the per-type default the loader applies.
// Sources with an unrecognised type return "" and are reported separately.
func effectiveSourceName(src SourceConfig) string {
	if src.Name != "" {
		return src.Name
	}
	switch src.Type {
	case SourcePhrases:
		return "curated"
	case SourceArticles:
		return "articles"
	}
	return ""
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
