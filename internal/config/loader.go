package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Sangini-spec/InterVue-X/internal/interview"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":   {"gemini-live", "openai-realtime"},
	"llm":   {"gemini", "openai", "anthropic", "mistral", "ollama"},
	"audio": {"malgo", "oto", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. ${VAR} references are expanded from the environment before
// decoding, so secrets can stay out of the file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
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
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	for i, fb := range cfg.Providers.LLMFallback {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallback[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallback) > 0 {
			errs = append(errs, errors.New("providers.llm_fallback requires providers.llm"))
		} else {
			slog.Warn("providers.llm is not configured; finished sessions will receive the fallback report")
		}
	}

	// Audio
	if cfg.Audio.CaptureRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must not be negative", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must not be negative", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration %s must not be negative", cfg.Audio.FrameDuration))
	}
	switch cfg.Audio.OutputBackend {
	case "", "malgo", "oto":
	default:
		errs = append(errs, fmt.Errorf("audio.output_backend %q is invalid; valid values: malgo, oto", cfg.Audio.OutputBackend))
	}

	// Interviewers
	seen := make(map[string]int, len(cfg.Interviewers))
	for i, ic := range cfg.Interviewers {
		prefix := fmt.Sprintf("interviewers[%d]", i)
		if ic.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			key := strings.ToLower(ic.ID)
			if prev, ok := seen[key]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of interviewers[%d]", prefix, ic.ID, prev))
			}
			seen[key] = i
		}
		if ic.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if ic.Voice == "" {
			errs = append(errs, fmt.Errorf("%s.voice is required", prefix))
		}
	}

	// Interview defaults
	if cfg.Interview.DefaultDuration < 0 {
		errs = append(errs, fmt.Errorf("interview.default_duration %s must not be negative", cfg.Interview.DefaultDuration))
	}
	if cfg.Interview.AnalysisTimeout < 0 {
		errs = append(errs, fmt.Errorf("interview.analysis_timeout %s must not be negative", cfg.Interview.AnalysisTimeout))
	}
	if id := cfg.Interview.DefaultPersona; id != "" {
		if _, err := interview.LookupPersona(cfg.Personas(), id); err != nil {
			errs = append(errs, fmt.Errorf("interview.default_persona %q does not name an interviewer", id))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// parseBytes loads a config from an in-memory file body.
func parseBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}
