package repository

import (
	"testing"

	"github.com/rocketscienceinc/quoridor-backend/testing/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileRepository_CreateOrUpdate(t *testing.T) {
	ctx, st := suite.New(t)

	profileRepo := NewProfileRepository(st.Storage)

	// Given: a profile with ID and name
	profile := Profile{
		ID:   "alice",
		Name: "Alice",
	}

	// When: CreateOrUpdate is called
	err := profileRepo.CreateOrUpdate(ctx, profile)

	// Then: no error should be returned, and the profile is stored
	require.NoError(t, err)
}

func TestProfileRepository_GetByID(t *testing.T) {
	t.Run("GetByID_Success", func(t *testing.T) {
		ctx, st := suite.New(t)

		profileRepo := NewProfileRepository(st.Storage)

		profile := Profile{
			ID:   "alice",
			Name: "Alice",
		}

		err := profileRepo.CreateOrUpdate(ctx, profile)
		require.NoError(t, err)

		// When: GetByID is called with an existing ID
		retrieved, err := profileRepo.GetByID(ctx, profile.ID)

		// Then: the retrieved profile matches the saved one
		require.NoError(t, err)
		require.Equal(t, profile.ID, retrieved.ID)
		require.Equal(t, profile.Name, retrieved.Name)
	})

	t.Run("GetByID_Rename", func(t *testing.T) {
		ctx, st := suite.New(t)

		profileRepo := NewProfileRepository(st.Storage)

		require.NoError(t, profileRepo.CreateOrUpdate(ctx, Profile{ID: "alice", Name: "Alice"}))

		// When: the same profile is saved with a new name
		require.NoError(t, profileRepo.CreateOrUpdate(ctx, Profile{ID: "alice", Name: "Alyx"}))

		retrieved, err := profileRepo.GetByID(ctx, "alice")

		// Then: the latest name wins
		require.NoError(t, err)
		assert.Equal(t, "Alyx", retrieved.Name)
	})

	t.Run("GetByID_NotFound", func(t *testing.T) {
		ctx, st := suite.New(t)

		profileRepo := NewProfileRepository(st.Storage)

		// When: GetByID is called with a non-existent ID
		retrieved, err := profileRepo.GetByID(ctx, "nobody")

		// Then: an ErrProfileNotFound error should be returned
		require.Error(t, err)
		assert.Equal(t, ErrProfileNotFound, err)
		assert.Empty(t, retrieved.ID)
	})
}
