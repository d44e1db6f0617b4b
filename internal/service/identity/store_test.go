package identity

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, threshold float64) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "voiceprints.json"), threshold)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStore_RegisterAndIdentify(t *testing.T) {
	s := newTestStore(t, 0.9)

	if err := s.Register("alice", []float64{1, 0, 0}); err != nil {
		t.Fatalf("register alice: %v", err)
	}
	if err := s.Register("bob", []float64{0, 1, 0}); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	m, err := s.Identify([]float64{0.99, 0.01, 0})
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if m.Name != "alice" {
		t.Errorf("expected alice, got %s", m.Name)
	}
	if m.Similarity < 0.9 {
		t.Errorf("expected similarity above threshold, got %f", m.Similarity)
	}
}

func TestStore_IdentifyBelowThreshold(t *testing.T) {
	s := newTestStore(t, 0.95)

	if err := s.Register("alice", []float64{1, 0}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Identify([]float64{0, 1}); !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch for orthogonal vector, got %v", err)
	}
}

func TestStore_RegisterReplacesSameName(t *testing.T) {
	s := newTestStore(t, 0.5)

	if err := s.Register("alice", []float64{1, 0}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register("alice", []float64{0, 1}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	st := s.Status()
	if st.Entries != 1 {
		t.Errorf("expected one entry after replacement, got %d", st.Entries)
	}
	m, err := s.Identify([]float64{0, 1})
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if m.Name != "alice" || m.Similarity < 0.99 {
		t.Errorf("expected replaced vector to match, got %+v", m)
	}
}

func TestStore_DimensionMismatch(t *testing.T) {
	s := newTestStore(t, 0.5)

	if err := s.Register("alice", []float64{1, 0, 0}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register("bob", []float64{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on register, got %v", err)
	}
	if _, err := s.Identify([]float64{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch on identify, got %v", err)
	}
}

func TestStore_EmptyVector(t *testing.T) {
	s := newTestStore(t, 0.5)

	if err := s.Register("alice", nil); !errors.Is(err, ErrEmptyVector) {
		t.Errorf("expected ErrEmptyVector on register, got %v", err)
	}
	if _, err := s.Identify(nil); !errors.Is(err, ErrEmptyVector) {
		t.Errorf("expected ErrEmptyVector on identify, got %v", err)
	}
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voiceprints.json")

	s1, err := NewStore(path, 0.9)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s1.Register("alice", []float64{0.6, 0.8}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s2, err := NewStore(path, 0.9)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	m, err := s2.Identify([]float64{0.6, 0.8})
	if err != nil {
		t.Fatalf("identify after reload: %v", err)
	}
	if m.Name != "alice" || math.Abs(m.Similarity-1) > 1e-9 {
		t.Errorf("expected exact match after reload, got %+v", m)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}
