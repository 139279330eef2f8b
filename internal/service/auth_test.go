package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/evidentops/storypack/internal/domain"
)

type mockAPIKeyRepo struct {
	mock.Mock
}

func (m *mockAPIKeyRepo) Create(ctx context.Context, key *domain.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *mockAPIKeyRepo) GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	args := m.Called(ctx, keyHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *mockAPIKeyRepo) Revoke(ctx context.Context, keyID string, revokedAt time.Time) error {
	args := m.Called(ctx, keyID, revokedAt)
	return args.Error(0)
}

func TestCreateAPIKey(t *testing.T) {
	workspaces := new(mockWorkspaceRepo)
	keys := new(mockAPIKeyRepo)
	svc := NewAuthService(workspaces, keys)

	workspaces.On("GetByID", mock.Anything, "ws-1").Return(&domain.Workspace{ID: "ws-1", Name: "Acme"}, nil)
	keys.On("Create", mock.Anything, mock.MatchedBy(func(k *domain.APIKey) bool {
		return k.WorkspaceID == "ws-1" && k.Name == "ci" && len(k.KeyHash) == 64
	})).Return(nil)

	out, err := svc.CreateAPIKey(context.Background(), "ws-1", "ci")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out.Token, apiKeyPrefix))
	assert.True(t, IsValidAPIToken(out.Token))
	assert.Equal(t, hashToken(out.Token), out.Key.KeyHash)
	keys.AssertExpectations(t)
}

func TestValidateAPIKey(t *testing.T) {
	t.Run("resolves token to workspace", func(t *testing.T) {
		keys := new(mockAPIKeyRepo)
		svc := NewAuthService(new(mockWorkspaceRepo), keys)

		token := apiKeyPrefix + strings.Repeat("ab", 32)
		keys.On("GetByHash", mock.Anything, hashToken(token)).
			Return(&domain.APIKey{ID: "key-1", WorkspaceID: "ws-1", KeyHash: hashToken(token)}, nil)

		workspaceID, err := svc.ValidateAPIKey(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "ws-1", workspaceID)
	})

	t.Run("malformed token is rejected without a lookup", func(t *testing.T) {
		keys := new(mockAPIKeyRepo)
		svc := NewAuthService(new(mockWorkspaceRepo), keys)

		_, err := svc.ValidateAPIKey(context.Background(), "nope")
		assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)
		keys.AssertNotCalled(t, "GetByHash", mock.Anything, mock.Anything)
	})

	t.Run("revoked key is rejected", func(t *testing.T) {
		keys := new(mockAPIKeyRepo)
		svc := NewAuthService(new(mockWorkspaceRepo), keys)

		token := apiKeyPrefix + strings.Repeat("cd", 32)
		revoked := time.Now().UTC()
		keys.On("GetByHash", mock.Anything, hashToken(token)).
			Return(&domain.APIKey{ID: "key-1", WorkspaceID: "ws-1", RevokedAt: &revoked}, nil)

		_, err := svc.ValidateAPIKey(context.Background(), token)
		assert.ErrorIs(t, err, domain.ErrAPIKeyRevoked)
	})
}

func TestEnsureBootstrapKey(t *testing.T) {
	token := apiKeyPrefix + strings.Repeat("ef", 32)

	t.Run("provisions workspace and key on first boot", func(t *testing.T) {
		workspaces := new(mockWorkspaceRepo)
		keys := new(mockAPIKeyRepo)
		svc := NewAuthService(workspaces, keys)

		keys.On("GetByHash", mock.Anything, hashToken(token)).Return(nil, domain.ErrInvalidAPIKey)
		workspaces.On("Create", mock.Anything, mock.MatchedBy(func(w *domain.Workspace) bool {
			return w.Name == "default"
		})).Return(nil)
		keys.On("Create", mock.Anything, mock.MatchedBy(func(k *domain.APIKey) bool {
			return k.Name == "bootstrap" && k.KeyHash == hashToken(token)
		})).Return(nil)

		require.NoError(t, svc.EnsureBootstrapKey(context.Background(), "default", token))
		workspaces.AssertExpectations(t)
		keys.AssertExpectations(t)
	})

	t.Run("second boot is a no-op", func(t *testing.T) {
		workspaces := new(mockWorkspaceRepo)
		keys := new(mockAPIKeyRepo)
		svc := NewAuthService(workspaces, keys)

		keys.On("GetByHash", mock.Anything, hashToken(token)).
			Return(&domain.APIKey{ID: "key-1", KeyHash: hashToken(token)}, nil)

		require.NoError(t, svc.EnsureBootstrapKey(context.Background(), "default", token))
		workspaces.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		keys.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("rejects malformed token", func(t *testing.T) {
		svc := NewAuthService(new(mockWorkspaceRepo), new(mockAPIKeyRepo))
		err := svc.EnsureBootstrapKey(context.Background(), "default", "spk_nothex")
		assert.Error(t, err)
	})
}

func TestIsValidAPIToken(t *testing.T) {
	valid := apiKeyPrefix + strings.Repeat("0f", 32)
	assert.True(t, IsValidAPIToken(valid))
	assert.False(t, IsValidAPIToken("wrong_"+strings.Repeat("0f", 32)))
	assert.False(t, IsValidAPIToken(apiKeyPrefix+"short"))
	assert.False(t, IsValidAPIToken(apiKeyPrefix+strings.Repeat("zz", 32)))
	assert.False(t, IsValidAPIToken(""))
}
