package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Sangini-spec/InterVue-X/pkg/audio"
	"github.com/Sangini-spec/InterVue-X/pkg/provider/llm"
	"github.com/Sangini-spec/InterVue-X/pkg/provider/s2s"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AudioDevices opens the local microphone and speaker. Each session calls
// NewInput and NewOutput once; Close releases backend-wide resources when
// the server shuts down.
type AudioDevices struct {
	NewInput  func() (audio.InputDevice, error)
	NewOutput func() (audio.OutputDevice, error)

	// Close may be nil.
	Close func() error
}

// factoryTable is the per-kind half of a [Registry].
type factoryTable[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactoryTable[T any](kind string) factoryTable[T] {
	return factoryTable[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

func (t factoryTable[T]) names() []string {
	out := make([]string, 0, len(t.m))
	for name := range t.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names from the config file to constructors. The
// built-in backends are registered in main; tests register stubs. It is
// safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	s2s   factoryTable[s2s.Provider]
	llm   factoryTable[llm.Provider]
	audio factoryTable[*AudioDevices]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s:   newFactoryTable[s2s.Provider]("s2s"),
		llm:   newFactoryTable[llm.Provider]("llm"),
		audio: newFactoryTable[*AudioDevices]("audio"),
	}
}

// RegisterS2S registers a live transport factory under name, replacing any
// earlier registration.
func (r *Registry) RegisterS2S(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	register(r, &r.s2s, name, factory)
}

// RegisterLLM registers a grading model factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(r, &r.llm, name, factory)
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (*AudioDevices, error)) {
	register(r, &r.audio, name, factory)
}

// CreateS2S builds the live transport named by entry.Name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	return create(r, &r.s2s, entry)
}

// CreateLLM builds the grading model named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, &r.llm, entry)
}

// CreateAudio builds the audio backend named by entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (*AudioDevices, error) {
	return create(r, &r.audio, entry)
}

// Names lists the registered names per kind ("s2s", "llm", "audio"), sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.s2s.kind:   r.s2s.names(),
		r.llm.kind:   r.llm.names(),
		r.audio.kind: r.audio.names(),
	}
}

func register[T any](r *Registry, t *factoryTable[T], name string, factory func(ProviderEntry) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.m[name] = factory
}

func create[T any](r *Registry, t *factoryTable[T], entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := t.m[entry.Name]
	known := t.names()
	r.mu.RUnlock()

	var zero T
	if !ok {
		return zero, fmt.Errorf("%w: %s/%q (registered: %s)",
			ErrProviderNotRegistered, t.kind, entry.Name, strings.Join(known, ", "))
	}
	v, err := factory(entry)
	if err != nil {
		return zero, fmt.Errorf("config: create %s/%q: %w", t.kind, entry.Name, err)
	}
	return v, nil
}
