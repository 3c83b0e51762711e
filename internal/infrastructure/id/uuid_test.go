package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDGenerator(t *testing.T) {
	g := NewUUIDGenerator()
	a, b := g.NewID(), g.NewID()

	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestSequence(t *testing.T) {
	s := NewSequence("u1", "o1")
	assert.Equal(t, "u1", s.NewID())
	assert.Equal(t, "o1", s.NewID())
	_, err := uuid.Parse(s.NewID())
	assert.NoError(t, err)
}
