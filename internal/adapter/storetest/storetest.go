// Package storetest holds the behavioural tests every domain.Store adapter
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tabares32/shipping-backend/internal/domain"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) domain.Store

// Run executes the suite against stores created by open.
func Run(t *testing.T, open Factory) {
	t.Run("MissingCollectionIsEmpty", func(t *testing.T) { testMissingCollection(t, open(t)) })
	t.Run("UnknownCollection", func(t *testing.T) { testUnknownCollection(t, open(t)) })
	t.Run("ReplaceRoundTrip", func(t *testing.T) { testReplaceRoundTrip(t, open(t)) })
	t.Run("UpdateCollection", func(t *testing.T) { testUpdateCollection(t, open(t)) })
	t.Run("UpdateErrorWritesNothing", func(t *testing.T) { testUpdateError(t, open(t)) })
	t.Run("ConcurrentReplaceIsAtomic", func(t *testing.T) { testConcurrentReplace(t, open(t)) })
	t.Run("ConcurrentUpdatesSerialize", func(t *testing.T) { testConcurrentUpdates(t, open(t)) })
	t.Run("KeyValue", func(t *testing.T) { testKeyValue(t, open(t)) })
}

// Docs builds n order documents tagged with label.
func Docs(label string, n int) []domain.Value {
	out := make([]domain.Value, n)
	for i := range out {
		out[i] = domain.Object(map[string]domain.Value{
			"invoice": domain.String(fmt.Sprintf("%s-%d", label, i)),
			"line":    domain.Int(int64(i)),
			"label":   domain.String(label),
			"shipped": domain.Bool(i%2 == 0),
			"notes":   domain.Null(),
			"parts":   domain.Array(domain.String("P-1"), domain.Float(2.5)),
		})
	}
	return out
}

func testMissingCollection(t *testing.T, s domain.Store) {
	docs, err := s.ReadCollection(context.Background(), "fedexOrders")
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func testUnknownCollection(t *testing.T, s domain.Store) {
	ctx := context.Background()
	_, err := s.ReadCollection(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownCollection)
	err = s.ReplaceCollection(ctx, "nope", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownCollection)
	err = s.UpdateCollection(ctx, "nope", func(d []domain.Value) ([]domain.Value, error) { return d, nil })
	assert.ErrorIs(t, err, domain.ErrUnknownCollection)
}

func testReplaceRoundTrip(t *testing.T, s domain.Store) {
	ctx := context.Background()
	want := Docs("a", 5)
	want = append(want, domain.String("loose string"), domain.Int(7))

	require.NoError(t, s.ReplaceCollection(ctx, "fedexOrders", want))
	got, err := s.ReadCollection(ctx, "fedexOrders")
	require.NoError(t, err)
	assert.True(t, domain.DocumentsEqual(want, got), "got %v", got)

	require.NoError(t, s.ReplaceCollection(ctx, "fedexOrders", []domain.Value{}))
	got, err = s.ReadCollection(ctx, "fedexOrders")
	require.NoError(t, err)
	assert.Empty(t, got)

	other, err := s.ReadCollection(ctx, "uspsOrders")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testUpdateCollection(t *testing.T, s domain.Store) {
	ctx := context.Background()
	require.NoError(t, s.ReplaceCollection(ctx, "observations", Docs("x", 1)))

	err := s.UpdateCollection(ctx, "observations", func(docs []domain.Value) ([]domain.Value, error) {
		require.Len(t, docs, 1)
		return append(docs, domain.String("appended")), nil
	})
	require.NoError(t, err)

	got, err := s.ReadCollection(ctx, "observations")
	require.NoError(t, err)
	require.Len(t, got, 2)
	s2, _ := got[1].AsString()
	assert.Equal(t, "appended", s2)
}

func testUpdateError(t *testing.T, s domain.Store) {
	ctx := context.Background()
	want := Docs("keep", 2)
	require.NoError(t, s.ReplaceCollection(ctx, "partNumbers", want))

	boom := errors.New("boom")
	err := s.UpdateCollection(ctx, "partNumbers", func([]domain.Value) ([]domain.Value, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.ReadCollection(ctx, "partNumbers")
	require.NoError(t, err)
	assert.True(t, domain.DocumentsEqual(want, got))
}

func testConcurrentReplace(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a := Docs("A", 40)
	b := Docs("B", 25)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 16; i++ {
		docs := a
		if i%2 == 1 {
			docs = b
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.ReplaceCollection(ctx, "dailyReport", docs)
		}()
		go func() {
			defer wg.Done()
			got, err := s.ReadCollection(ctx, "dailyReport")
			if err != nil {
				errs <- err
				return
			}
			if len(got) != 0 && !domain.DocumentsEqual(got, a) && !domain.DocumentsEqual(got, b) {
				errs <- fmt.Errorf("reader saw a torn collection of %d docs", len(got))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.ReadCollection(ctx, "dailyReport")
	require.NoError(t, err)
	assert.True(t, domain.DocumentsEqual(got, a) || domain.DocumentsEqual(got, b))
}

func testConcurrentUpdates(t *testing.T, s domain.Store) {
	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.UpdateCollection(ctx, "cutsReport", func(docs []domain.Value) ([]domain.Value, error) {
				return append(docs, domain.Int(int64(i))), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.ReadCollection(ctx, "cutsReport")
	require.NoError(t, err)
	assert.Len(t, got, writers, "lost update")
}

func testKeyValue(t *testing.T, s domain.Store) {
	ctx := context.Background()

	_, ok, err := s.GetValue(ctx, "color")
	require.NoError(t, err)
	assert.False(t, ok)

	before := time.Now().Add(-time.Second)
	e, err := s.SetValue(ctx, "color", domain.String("blue"))
	require.NoError(t, err)
	assert.Equal(t, "color", e.Key)
	assert.True(t, e.UpdatedAt.After(before))

	got, ok, err := s.GetValue(ctx, "color")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Value.Equal(domain.String("blue")))
	assert.WithinDuration(t, e.UpdatedAt, got.UpdatedAt, time.Millisecond)

	obj := domain.Object(map[string]domain.Value{"theme": domain.String("dark"), "n": domain.Int(3)})
	_, err = s.SetValue(ctx, "color", obj)
	require.NoError(t, err)
	got, _, err = s.GetValue(ctx, "color")
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(obj))

	_, err = s.SetValue(ctx, "weird/key with spaces", domain.Null())
	require.NoError(t, err)
	got, ok, err = s.GetValue(ctx, "weird/key with spaces")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Value.IsNull())
}
