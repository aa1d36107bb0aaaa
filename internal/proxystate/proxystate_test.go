package proxystate

import (
	"net/url"
	"testing"

	"github.com/relaywatch/relaywatch/internal/domain"
)

func endpoints() []*domain.Endpoint {
	a, _ := url.Parse("http://a.local")
	b, _ := url.Parse("http://b.local")
	return []*domain.Endpoint{
		{URL: a, URLString: "http://a.local", DisplayName: "a", AuthCredential: "tok-a"},
		{URL: b, URLString: "http://b.local", DisplayName: "b", AuthCredential: "tok-b"},
	}
}

func TestNewSeedsCheckingStatusForEveryEndpoint(t *testing.T) {
	s := New(endpoints(), nil)
	statuses := s.StatusByURL()

	if len(statuses) != 2 {
		t.Fatalf("expected 2 seeded statuses, got %d", len(statuses))
	}
	for url, st := range statuses {
		if !st.IsChecking() {
			t.Errorf("expected %s to start in checking state", url)
		}
	}
	if s.Current() != "" {
		t.Fatal("expected no current endpoint before first pick")
	}
}

func TestSwitchIsNoOpWhenAlreadyCurrent(t *testing.T) {
	s := New(endpoints(), nil)
	if !s.Switch("http://a.local", 0, 10, domain.ReasonInitial) {
		t.Fatal("expected first switch to report a change")
	}
	if s.Switch("http://a.local", 10, 10, domain.ReasonLatencyImprovement) {
		t.Fatal("expected switching to the already-current endpoint to be a no-op")
	}
}

func TestSwitchSilentDoesNotPanicWithoutLogger(t *testing.T) {
	s := New(endpoints(), nil)
	if !s.SwitchSilent("http://b.local", 0, 0, domain.ReasonManual) {
		t.Fatal("expected switch to report a change")
	}
	if s.Current() != "http://b.local" {
		t.Fatalf("expected current endpoint http://b.local, got %s", s.Current())
	}
}

func TestMarkFailedSetsUnavailable(t *testing.T) {
	s := New(endpoints(), nil)
	s.MarkFailed("http://a.local", "connection refused")

	st, ok := s.StatusFor("http://a.local")
	if !ok {
		t.Fatal("expected status present")
	}
	if st.Available {
		t.Fatal("expected endpoint marked unavailable")
	}
	if !st.IsFailed() {
		t.Fatal("expected failed state, not checking")
	}
	if st.LastError != "connection refused" {
		t.Fatalf("expected error message preserved, got %q", st.LastError)
	}
}

func TestSelectionModeReadWrite(t *testing.T) {
	s := New(endpoints(), nil)
	if s.SelectionMode() != domain.Auto {
		t.Fatal("expected default selection mode Auto")
	}
	s.SetSelectionMode(domain.Manual)
	if s.SelectionMode() != domain.Manual {
		t.Fatal("expected selection mode Manual after write")
	}
}

func TestAuthForCurrentUsesCallback(t *testing.T) {
	s := New(endpoints(), nil)
	s.Switch("http://a.local", 0, 0, domain.ReasonInitial)

	got := s.AuthForCurrent(func(u string) string {
		if u == "http://a.local" {
			return "tok-a"
		}
		return ""
	})
	if got != "tok-a" {
		t.Fatalf("expected tok-a, got %q", got)
	}
}
