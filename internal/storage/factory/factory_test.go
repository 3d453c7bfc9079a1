package factory

import "testing"

func TestNewAlwaysEnablesGranite(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if _, err := s.Get("GRANITE"); err != nil {
		t.Errorf("Granite should always be enabled, got %v", err)
	}
}

func TestGetUnknownEngineType(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if _, err := s.Get("NOSUCHENGINE"); err == nil {
		t.Errorf("Get on an unregistered engine name should error")
	}
}

func TestGetNotEnabledEngine(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if _, err := s.Get("SANDSTONE"); err == nil {
		t.Errorf("Get on a known-but-not-enabled engine should error")
	}
}

func TestNewEnablesNamedEngines(t *testing.T) {
	s, err := New(t.TempDir(), []string{"sandstone"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if _, err := s.Get("sandstone"); err != nil {
		t.Errorf("sandstone should be enabled when named, got %v", err)
	}
}

func TestIsKnown(t *testing.T) {
	if !IsKnown("granite") || !IsKnown("SANDSTONE") {
		t.Errorf("IsKnown should recognize both built-in engines case-insensitively")
	}
	if IsKnown("nope") {
		t.Errorf("IsKnown(nope) should be false")
	}
}
