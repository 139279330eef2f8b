package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/evidentops/storypack/internal/domain"
)

const apiKeyPrefix = "spk_"

// WorkspaceRepository defines the repository interface for workspaces
type WorkspaceRepository interface {
	Create(ctx context.Context, workspace *domain.Workspace) error
	GetByID(ctx context.Context, workspaceID string) (*domain.Workspace, error)
}

// APIKeyRepository defines the repository interface for API keys
type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	Revoke(ctx context.Context, keyID string, revokedAt time.Time) error
}

// AuthService manages workspaces and their API keys. Tokens are shown once
// at creation; only the sha256 hash is stored.
type AuthService struct {
	workspaces WorkspaceRepository
	keys       APIKeyRepository
	uuidGen    UUIDGenerator
}

// NewAuthService creates a new AuthService instance
func NewAuthService(workspaces WorkspaceRepository, keys APIKeyRepository) *AuthService {
	return &AuthService{
		workspaces: workspaces,
		keys:       keys,
		uuidGen:    &DefaultUUIDGenerator{},
	}
}

// CreateWorkspace creates a new workspace tenant.
func (s *AuthService) CreateWorkspace(ctx context.Context, name string) (*domain.Workspace, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "workspace name is required")
	}

	workspace := domain.NewWorkspace(s.uuidGen.NewString(), strings.TrimSpace(name), time.Now().UTC())
	if err := s.workspaces.Create(ctx, workspace); err != nil {
		return nil, err
	}
	return workspace, nil
}

// CreateAPIKeyOutput carries the one-time plaintext token.
type CreateAPIKeyOutput struct {
	Key   *domain.APIKey
	Token string
}

// CreateAPIKey mints a new API key for a workspace. The returned token is
// not recoverable afterwards.
func (s *AuthService) CreateAPIKey(ctx context.Context, workspaceID, name string) (*CreateAPIKeyOutput, error) {
	if workspaceID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "workspace ID is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "key name is required")
	}
	if _, err := s.workspaces.GetByID(ctx, workspaceID); err != nil {
		return nil, err
	}

	token, err := generateAPIToken()
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate token", err)
	}

	key := &domain.APIKey{
		ID:          s.uuidGen.NewString(),
		WorkspaceID: workspaceID,
		Name:        strings.TrimSpace(name),
		KeyHash:     hashToken(token),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}
	return &CreateAPIKeyOutput{Key: key, Token: token}, nil
}

// ValidateAPIKey resolves a presented token to its workspace id.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	if !IsValidAPIToken(token) {
		return "", domain.ErrInvalidAPIKey
	}

	key, err := s.keys.GetByHash(ctx, hashToken(token))
	if err != nil {
		return "", domain.ErrInvalidAPIKey
	}
	if key.IsRevoked() {
		return "", domain.ErrAPIKeyRevoked
	}
	return key.WorkspaceID, nil
}

// EnsureBootstrapKey provisions a workspace and a pre-shared API key at
// startup. Safe to call on every boot: once the key's hash exists nothing
// is written.
func (s *AuthService) EnsureBootstrapKey(ctx context.Context, workspaceName, token string) error {
	if !IsValidAPIToken(token) {
		return domain.NewDomainError(domain.ErrCodeValidation, "bootstrap token must be 'spk_' plus 64 hex characters")
	}
	if _, err := s.keys.GetByHash(ctx, hashToken(token)); err == nil {
		return nil
	}

	workspace, err := s.CreateWorkspace(ctx, workspaceName)
	if err != nil {
		return err
	}
	key := &domain.APIKey{
		ID:          s.uuidGen.NewString(),
		WorkspaceID: workspace.ID,
		Name:        "bootstrap",
		KeyHash:     hashToken(token),
		CreatedAt:   time.Now().UTC(),
	}
	return s.keys.Create(ctx, key)
}

// RevokeAPIKey permanently disables a key.
func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "key ID is required")
	}
	return s.keys.Revoke(ctx, keyID, time.Now().UTC())
}

// generateAPIToken returns a new token: the prefix plus 64 hex characters.
func generateAPIToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(raw), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IsValidAPIToken checks the token's shape without touching the store.
func IsValidAPIToken(token string) bool {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return false
	}
	body := strings.TrimPrefix(token, apiKeyPrefix)
	if len(body) != 64 {
		return false
	}
	if _, err := hex.DecodeString(body); err != nil {
		return false
	}
	return true
}
