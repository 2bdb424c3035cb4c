package capture

import (
	"fmt"
	"sync"

	"agrivoice/internal/ports"
)

// EngineFactory builds a recognition engine.
type EngineFactory func() (ports.RecognitionEngine, error)

// EngineResource owns the single recognition engine of the process. The engine is created on
// the first Acquire and handed out again on every later call until Invalidate drops it.
type EngineResource struct {
	mu      sync.Mutex
	factory EngineFactory
	engine  ports.RecognitionEngine
	created int
}

func NewEngineResource(factory EngineFactory) *EngineResource {
	return &EngineResource{factory: factory}
}

// Acquire returns the engine, creating it if no live instance exists.
func (r *EngineResource) Acquire() (ports.RecognitionEngine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine != nil {
		return r.engine, nil
	}
	engine, err := r.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create recognition engine: %w", err)
	}
	r.engine = engine
	r.created++
	return engine, nil
}

// Invalidate forgets the current engine. Only unrecoverable failures should call it.
func (r *EngineResource) Invalidate() {
	r.mu.Lock()
	r.engine = nil
	r.mu.Unlock()
}

// Created reports how many engines have been built so far.
func (r *EngineResource) Created() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created
}
