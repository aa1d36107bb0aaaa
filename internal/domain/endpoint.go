package domain

import (
	"fmt"
	"net/url"
)

// Endpoint is an immutable description of one upstream chat API server.
// It is constructed once at startup from configuration and never mutated;
// anything that changes over the endpoint's lifetime (status, latency
// history) lives in EndpointStatus instead.
type Endpoint struct {
	URL            *url.URL
	URLString      string
	DisplayName    string
	GroupName      string
	AuthCredential string
}

// Identity returns the value used to key this endpoint across the
// registry, the proxy state and the connection tracker.
func (e *Endpoint) Identity() string {
	return e.URLString
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("%s (%s)", e.DisplayName, e.URLString)
}

// ErrEndpointNotFound is returned by Registry.ByURL for an unknown identity.
type ErrEndpointNotFound struct {
	URL string
}

func (e *ErrEndpointNotFound) Error() string {
	return fmt.Sprintf("endpoint not found: %s", e.URL)
}

// ErrDuplicateDisplayName is returned at registry construction time.
type ErrDuplicateDisplayName struct {
	Name string
}

func (e *ErrDuplicateDisplayName) Error() string {
	return fmt.Sprintf("duplicate endpoint display name: %s", e.Name)
}
