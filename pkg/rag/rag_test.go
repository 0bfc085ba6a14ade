package rag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func vec(id string, values []float32, metadata map[string]any) Vector {
	return Vector{ID: id, Values: values, Metadata: metadata}
}

func TestUploadRejectsDimensionMismatchPerItem(t *testing.T) {
	s := New(3)
	errs := s.Upload([]Vector{
		vec("a", []float32{1, 0, 0}, nil),
		vec("b", []float32{1, 0}, nil),
	}, false)

	require.Len(t, errs, 1)
	require.Equal(t, 1, s.Size())
}

func TestUploadReplaceClearsFirst(t *testing.T) {
	s := New(2)
	s.Upload([]Vector{vec("a", []float32{1, 0}, nil)}, false)
	s.Upload([]Vector{vec("b", []float32{0, 1}, nil)}, true)

	require.Equal(t, 1, s.Size())
	results, err := s.Search([]float32{0, 1}, 5, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestSearchRejectsDimensionMismatch(t *testing.T) {
	s := New(3)
	_, err := s.Search([]float32{1, 0}, 5, nil, nil)
	require.Error(t, err)
}

func TestSearchSortsByCosineSimilarityDescending(t *testing.T) {
	s := New(2)
	s.Upload([]Vector{
		vec("orthogonal", []float32{0, 1}, nil),
		vec("exact", []float32{1, 0}, nil),
		vec("opposite", []float32{-1, 0}, nil),
	}, false)

	results, err := s.Search([]float32{1, 0}, 3, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "exact", results[0].ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
	require.Equal(t, "opposite", results[2].ID)
}

func TestSearchAppliesThreshold(t *testing.T) {
	s := New(2)
	s.Upload([]Vector{
		vec("exact", []float32{1, 0}, nil),
		vec("orthogonal", []float32{0, 1}, nil),
	}, false)

	threshold := 0.5
	results, err := s.Search([]float32{1, 0}, 10, &threshold, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "exact", results[0].ID)
}

func TestSearchAppliesMetadataFilter(t *testing.T) {
	s := New(2)
	s.Upload([]Vector{
		vec("a", []float32{1, 0}, map[string]any{"lang": "en"}),
		vec("b", []float32{1, 0}, map[string]any{"lang": "fr"}),
	}, false)

	results, err := s.Search([]float32{1, 0}, 10, nil, &MetadataFilter{Field: "lang", Eq: "fr"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "b", results[0].ID)
}

func TestClearAndSize(t *testing.T) {
	s := New(2)
	s.Upload([]Vector{vec("a", []float32{1, 0}, nil)}, false)
	require.Equal(t, 1, s.Size())
	s.Clear()
	require.Equal(t, 0, s.Size())
}

func TestSessionIsolation(t *testing.T) {
	m := NewSessionStores()
	a := m.Enable("sess-a", 2)
	b := m.Enable("sess-b", 2)

	a.Upload([]Vector{vec("x", []float32{1, 0}, nil)}, false)
	require.Equal(t, 1, a.Size())
	require.Equal(t, 0, b.Size())

	m.Disable("sess-a")
	_, ok := m.Get("sess-a")
	require.False(t, ok)
	_, ok = m.Get("sess-b")
	require.True(t, ok)
}
