package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanerRunsNewestFirst(t *testing.T) {
	c := NewCleaner()
	var order []string
	c.Add(CallableFunc(func(context.Context) error { order = append(order, "store"); return nil }))
	c.Add(CallableFunc(func(context.Context) error { order = append(order, "metrics"); return nil }))

	assert.NoError(t, c.Clean())
	assert.Equal(t, []string{"metrics", "store"}, order)

	// second call is a no-op
	assert.NoError(t, c.Clean())
	assert.Len(t, order, 2)
}

func TestCleanerCollectsErrors(t *testing.T) {
	c := NewCleaner()
	boom := errors.New("boom")
	ran := false
	c.Add(CallableFunc(func(context.Context) error { ran = true; return nil }))
	c.Add(CallableFunc(func(context.Context) error { return boom }))

	err := c.Clean()
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran)
}

func TestCleanerIgnoresLateAdd(t *testing.T) {
	c := NewCleaner()
	assert.NoError(t, c.Clean())
	c.Add(CallableFunc(func(context.Context) error { return errors.New("late") }))
	assert.NoError(t, c.Clean())
}
