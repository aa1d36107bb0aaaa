package registry

import "testing"

func sources() []Source {
	return []Source{
		{URL: "http://a.local:9000", DisplayName: "a", GroupName: "g1", AuthCredential: "tok-a"},
		{URL: "http://b.local:9000", DisplayName: "b", GroupName: "g1", AuthCredential: "tok-b", IsGroupDefault: true},
		{URL: "http://c.local:9000", DisplayName: "c", GroupName: "g2", AuthCredential: "tok-c"},
	}
}

func TestNewRejectsDuplicateDisplayNames(t *testing.T) {
	dup := sources()
	dup[2].DisplayName = "a"

	if _, err := New(dup); err == nil {
		t.Fatal("expected error for duplicate display name")
	}
}

func TestNewRejectsEmpty(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty endpoint set")
	}
}

func TestDefaultPrefersFlaggedEndpoint(t *testing.T) {
	r, err := New(sources())
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Default().DisplayName; got != "b" {
		t.Fatalf("expected default endpoint 'b', got %s", got)
	}
}

func TestDefaultFallsBackToFirst(t *testing.T) {
	src := sources()
	src[1].IsGroupDefault = false

	r, err := New(src)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Default().DisplayName; got != "a" {
		t.Fatalf("expected fallback default 'a', got %s", got)
	}
}

func TestByURLAndAuthFor(t *testing.T) {
	r, err := New(sources())
	if err != nil {
		t.Fatal(err)
	}

	ep, err := r.ByURL("http://b.local:9000")
	if err != nil {
		t.Fatal(err)
	}
	if ep.DisplayName != "b" {
		t.Fatalf("expected 'b', got %s", ep.DisplayName)
	}

	if got := r.AuthFor("http://c.local:9000"); got != "tok-c" {
		t.Fatalf("expected tok-c, got %s", got)
	}
	if got := r.AuthFor("http://missing.local"); got != "" {
		t.Fatalf("expected empty credential for unknown url, got %s", got)
	}
}

func TestByURLNotFound(t *testing.T) {
	r, err := New(sources())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ByURL("http://nope.local"); err == nil {
		t.Fatal("expected not-found error")
	}
}
