// ABOUTME: Streaming client contract and delta types shared by all providers
// ABOUTME: Defines the tagged thinking/content delta union and the client registry

package provider

import (
	"context"
	"sync"
)

// DeltaKind tags which logical channel a streamed fragment belongs to.
type DeltaKind int

const (
	// KindThinking carries intermediate reasoning text.
	KindThinking DeltaKind = iota
	// KindContent carries final answer text.
	KindContent
)

func (k DeltaKind) String() string {
	if k == KindThinking {
		return "thinking"
	}
	return "content"
}

// Delta is one streamed fragment from an upstream model. The two channels
// share one connection but are logically independent; routing by Kind keeps
// ownership of each channel unambiguous downstream.
type Delta struct {
	Kind DeltaKind
	Text string
}

// Message is one prior conversation entry in provider-neutral form.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Prompt carries everything a provider needs to open a generation call.
type Prompt struct {
	System  string
	History []Message
}

// StreamClient opens a streaming generation call against one provider.
//
// The delta channel is closed at end of stream. The error channel delivers
// at most one error; a closed delta channel with no error means normal
// completion. Both channels are owned by the call and must not be reused.
// Cancelling ctx tears the stream down.
type StreamClient interface {
	Open(ctx context.Context, desc Descriptor, prompt Prompt) (<-chan Delta, <-chan error)
}

// Registry maps provider names to their stream clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]StreamClient
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]StreamClient)}
}

// Register associates a client with a provider name, replacing any
// previous registration.
func (r *Registry) Register(name string, client StreamClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
}

// For returns the client registered under name.
func (r *Registry) For(name string) (StreamClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}
