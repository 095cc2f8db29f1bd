package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tabares32/shipping-backend/internal/adapter/storetest"
	"github.com/Tabares32/shipping-backend/internal/domain"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store { return New() })
}

func TestReadReturnsCopy(t *testing.T) {
	db := New()
	ctx := context.Background()

	require.NoError(t, db.ReplaceCollection(ctx, "observations", storetest.Docs("a", 1)))

	docs, err := db.ReadCollection(ctx, "observations")
	require.NoError(t, err)
	docs[0] = domain.String("mutated by caller")

	again, err := db.ReadCollection(ctx, "observations")
	require.NoError(t, err)
	assert.Equal(t, domain.KindObject, again[0].Kind())
}
