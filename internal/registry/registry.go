// Package registry holds the immutable set of upstream endpoints loaded
// once at startup (§4.1).
package registry

import (
	"fmt"
	"net/url"

	"github.com/relaywatch/relaywatch/internal/domain"
)

// Registry is the Endpoint Registry (C1): a read-only view over the
// endpoints loaded from configuration, built once and never mutated.
type Registry struct {
	endpoints []*domain.Endpoint
	byURL     map[string]*domain.Endpoint
	defaultEP *domain.Endpoint
}

// Source describes one configured endpoint, prior to credential loading.
type Source struct {
	URL            string
	DisplayName    string
	GroupName      string
	AuthCredential string
	IsGroupDefault bool
}

// New builds a Registry from sources in configuration order. Duplicate
// display names are rejected (§4.1). The default endpoint is the first
// source flagged as its group's default; absent that, the first endpoint
// of the first group.
func New(sources []Source) (*Registry, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("registry: no endpoints configured")
	}

	r := &Registry{
		byURL: make(map[string]*domain.Endpoint, len(sources)),
	}
	seenNames := make(map[string]struct{}, len(sources))

	for _, src := range sources {
		if _, dup := seenNames[src.DisplayName]; dup {
			return nil, &domain.ErrDuplicateDisplayName{Name: src.DisplayName}
		}
		seenNames[src.DisplayName] = struct{}{}

		parsed, err := url.Parse(src.URL)
		if err != nil {
			return nil, fmt.Errorf("registry: invalid endpoint url %q: %w", src.URL, err)
		}

		ep := &domain.Endpoint{
			URL:            parsed,
			URLString:      src.URL,
			DisplayName:    src.DisplayName,
			GroupName:      src.GroupName,
			AuthCredential: src.AuthCredential,
		}

		r.endpoints = append(r.endpoints, ep)
		r.byURL[ep.URLString] = ep

		if src.IsGroupDefault && r.defaultEP == nil {
			r.defaultEP = ep
		}
	}

	if r.defaultEP == nil {
		r.defaultEP = r.endpoints[0]
	}

	return r, nil
}

// All returns every registered endpoint, in configuration order. The
// returned slice is a defensive copy; Endpoint values themselves are
// immutable after load so sharing pointers is safe.
func (r *Registry) All() []*domain.Endpoint {
	out := make([]*domain.Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// Default returns the endpoint chosen as the startup default (§4.1).
func (r *Registry) Default() *domain.Endpoint {
	return r.defaultEP
}

// ByURL looks up an endpoint by its identity URL string.
func (r *Registry) ByURL(u string) (*domain.Endpoint, error) {
	ep, ok := r.byURL[u]
	if !ok {
		return nil, &domain.ErrEndpointNotFound{URL: u}
	}
	return ep, nil
}

// AuthFor returns the bearer credential configured for an endpoint URL,
// or "" if unknown or none configured.
func (r *Registry) AuthFor(u string) string {
	ep, ok := r.byURL[u]
	if !ok {
		return ""
	}
	return ep.AuthCredential
}

// Len reports the number of registered endpoints.
func (r *Registry) Len() int {
	return len(r.endpoints)
}
