package customers_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/customers"
	"github.com/warp/invoice-engine/invoice"
)

type countingDirectory struct {
	calls atomic.Int32
	names map[invoice.CustomerID]string
}

func (d *countingDirectory) Get(_ context.Context, id invoice.CustomerID) (*invoice.Customer, error) {
	d.calls.Add(1)
	name, ok := d.names[id]
	if !ok {
		return nil, invoice.ErrCustomerNotFound
	}
	return &invoice.Customer{ID: id, Name: name}, nil
}

func TestCachedDirectory_ResolvesOnce(t *testing.T) {
	// GIVEN: A cached directory over a counting source
	// WHEN: The same customer is resolved three times
	// THEN: The source is hit once
	src := &countingDirectory{names: map[invoice.CustomerID]string{"C1": "Anna"}}
	dir := customers.NewCachedDirectory(src, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c, err := dir.Get(ctx, "C1")
		require.NoError(t, err)
		assert.Equal(t, "Anna", c.Name)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCachedDirectory_ReturnsCopies(t *testing.T) {
	src := &countingDirectory{names: map[invoice.CustomerID]string{"C1": "Anna"}}
	dir := customers.NewCachedDirectory(src, time.Minute)
	ctx := context.Background()

	c, err := dir.Get(ctx, "C1")
	require.NoError(t, err)
	c.Name = "changed"

	again, err := dir.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Anna", again.Name)
}

func TestCachedDirectory_InvalidateAndMisses(t *testing.T) {
	src := &countingDirectory{names: map[invoice.CustomerID]string{"C1": "Anna"}}
	dir := customers.NewCachedDirectory(src, time.Minute)
	ctx := context.Background()

	_, err := dir.Get(ctx, "C1")
	require.NoError(t, err)
	src.names["C1"] = "Anna B."
	dir.Invalidate("C1")

	c, err := dir.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Anna B.", c.Name)

	// Misses are not cached
	_, err = dir.Get(ctx, "C2")
	assert.ErrorIs(t, err, invoice.ErrCustomerNotFound)
	_, err = dir.Get(ctx, "C2")
	assert.ErrorIs(t, err, invoice.ErrCustomerNotFound)
	assert.Equal(t, int32(4), src.calls.Load())

	dir.Flush()
	_, err = dir.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, int32(5), src.calls.Load())
}
