package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainbridge/webhook-pipeline/pkg/models"
)

type fakeEndpointRepo struct {
	endpoints []*models.Endpoint
}

func (f *fakeEndpointRepo) ListActive(ctx context.Context) ([]*models.Endpoint, error) {
	return f.endpoints, nil
}
func (f *fakeEndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Endpoint, error) {
	return nil, nil
}
func (f *fakeEndpointRepo) Create(ctx context.Context, e *models.Endpoint) error { return nil }
func (f *fakeEndpointRepo) Update(ctx context.Context, e *models.Endpoint) error { return nil }
func (f *fakeEndpointRepo) Delete(ctx context.Context, id uuid.UUID) error       { return nil }

func TestEndpointCacheRefreshAndMatchAll(t *testing.T) {
	matching := &models.Endpoint{
		ID:       uuid.New(),
		Active:   true,
		ChainIDs: []string{"1"},
	}
	other := &models.Endpoint{
		ID:       uuid.New(),
		Active:   true,
		ChainIDs: []string{"2"},
	}
	repo := &fakeEndpointRepo{endpoints: []*models.Endpoint{matching, other}}

	cache, err := NewEndpointCache(repo, nil, 128)
	require.NoError(t, err)
	require.NoError(t, cache.Refresh(t.Context()))

	matches := cache.MatchAll("1", "", "")
	require.Len(t, matches, 1)
	assert.Equal(t, matching.ID, matches[0].ID)

	got, ok := cache.Get(matching.ID)
	require.True(t, ok)
	assert.Equal(t, matching.ID, got.ID)

	assert.Equal(t, uint64(1), cache.Version())
}

func TestEndpointCacheVersionIncrementsOnRefresh(t *testing.T) {
	repo := &fakeEndpointRepo{}
	cache, err := NewEndpointCache(repo, nil, 16)
	require.NoError(t, err)

	require.NoError(t, cache.Refresh(t.Context()))
	require.NoError(t, cache.Refresh(t.Context()))
	assert.Equal(t, uint64(2), cache.Version())
}
