package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"translation-gateway/configs"
	"translation-gateway/internal/apperrors"
	"translation-gateway/internal/models"

	"go.uber.org/zap"
)

type memCredentialStore struct {
	mu            sync.Mutex
	credentials   map[string]*models.AuthCredential
	installations map[string]*models.Installation
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{
		credentials:   make(map[string]*models.AuthCredential),
		installations: make(map[string]*models.Installation),
	}
}

func (s *memCredentialStore) GetCredential(_ context.Context, installID string) (*models.AuthCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.credentials[installID]
	if !ok {
		return nil, nil
	}
	copied := *cred
	return &copied, nil
}

func (s *memCredentialStore) SaveCredential(_ context.Context, cred *models.AuthCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cred
	s.credentials[cred.InstallID] = &copied
	return nil
}

func (s *memCredentialStore) UpsertInstallation(_ context.Context, inst *models.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *inst
	s.installations[inst.InstallID] = &copied
	return nil
}

func (s *memCredentialStore) TouchLastSeen(_ context.Context, installID string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.installations[installID]; ok {
		inst.LastSeen = seen
	}
	return nil
}

func testConfig() *configs.Config {
	return &configs.Config{
		JWTSecret:     "test-secret",
		CredentialTTL: 42 * 24 * time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		TimestampSkew: 5 * time.Minute,
	}
}

func newTestAuthService(store CredentialStore) *AuthService {
	return NewAuthService(store, testConfig(), zap.NewNop())
}

func TestRegisterIssuesCredential(t *testing.T) {
	store := newMemCredentialStore()
	svc := newTestAuthService(store)

	result, err := svc.Register(context.Background(), "install-abc-123", "1.0.0", "chrome")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if len(result.Token) != 64 {
		t.Errorf("expected 64 hex chars of key material, got %d", len(result.Token))
	}
	if result.RefreshToken == "" {
		t.Error("expected a refresh token")
	}
	if result.ExpiresIn != int64((42 * 24 * time.Hour).Seconds()) {
		t.Errorf("unexpected expiresIn: %d", result.ExpiresIn)
	}

	cred, _ := store.GetCredential(context.Background(), "install-abc-123")
	if cred == nil || cred.SharedKey != result.Token {
		t.Fatal("credential not persisted with the issued key")
	}
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	store := newMemCredentialStore()
	svc := newTestAuthService(store)

	result, err := svc.Register(context.Background(), "install-abc-123", "1.0.0", "chrome")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := Sign(result.Token, "install-abc-123", ts)

	identity, err := svc.Verify(context.Background(), "install-abc-123", ts, sig, result.Token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if identity.InstallID != "install-abc-123" {
		t.Errorf("unexpected identity: %+v", identity)
	}
}

func TestVerifyFailures(t *testing.T) {
	store := newMemCredentialStore()
	svc := newTestAuthService(store)

	result, err := svc.Register(context.Background(), "install-abc-123", "1.0.0", "chrome")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	key := result.Token

	now := time.Now()
	freshTS := strconv.FormatInt(now.Unix(), 10)
	staleTS := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)

	tests := []struct {
		name      string
		installID string
		timestamp string
		signature string
		bearer    string
		sentinel  error
	}{
		{
			name:     "missing headers",
			sentinel: apperrors.ErrMissingAuthHeaders,
		},
		{
			name:      "missing bearer with valid signature",
			installID: "install-abc-123",
			timestamp: freshTS,
			signature: Sign(key, "install-abc-123", freshTS),
			sentinel:  apperrors.ErrMissingAuthHeaders,
		},
		{
			name:      "stale timestamp with correct signature",
			installID: "install-abc-123",
			timestamp: staleTS,
			signature: Sign(key, "install-abc-123", staleTS),
			bearer:    key,
			sentinel:  apperrors.ErrTimestampOutOfRange,
		},
		{
			name:      "tampered signature",
			installID: "install-abc-123",
			timestamp: freshTS,
			signature: Sign("wrong-key", "install-abc-123", freshTS),
			bearer:    key,
			sentinel:  apperrors.ErrInvalidSignature,
		},
		{
			name:      "bearer is not the issued key",
			installID: "install-abc-123",
			timestamp: freshTS,
			signature: Sign(key, "install-abc-123", freshTS),
			bearer:    "some-other-token",
			sentinel:  apperrors.ErrInvalidSignature,
		},
		{
			name:      "unknown installation",
			installID: "nobody-here-123",
			timestamp: freshTS,
			signature: Sign(key, "nobody-here-123", freshTS),
			bearer:    key,
			sentinel:  apperrors.ErrUnknownInstallation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(context.Background(), tt.installID, tt.timestamp, tt.signature, tt.bearer)
			if err == nil {
				t.Fatal("expected verification to fail")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("expected sentinel %v, got %v", tt.sentinel, err)
			}
		})
	}
}

func TestVerifyRejectsExpiredCredential(t *testing.T) {
	store := newMemCredentialStore()
	svc := newTestAuthService(store)

	store.SaveCredential(context.Background(), &models.AuthCredential{
		InstallID: "install-abc-123",
		SharedKey: "0123456789abcdef",
		IssuedAt:  time.Now().Add(-100 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	})

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	_, err := svc.Verify(context.Background(), "install-abc-123", ts,
		Sign("0123456789abcdef", "install-abc-123", ts), "0123456789abcdef")
	if !errors.Is(err, apperrors.ErrCredentialExpired) {
		t.Errorf("expected credential expired, got %v", err)
	}
}

func TestRefreshReissuesCredential(t *testing.T) {
	store := newMemCredentialStore()
	svc := newTestAuthService(store)

	first, err := svc.Register(context.Background(), "install-abc-123", "1.0.0", "chrome")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken, "1.0.1", "chrome")
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if second.Token == first.Token {
		t.Error("refresh should rotate the shared key")
	}

	if _, err := svc.Refresh(context.Background(), "not-a-jwt", "1.0.1", "chrome"); err == nil {
		t.Error("expected garbage refresh token to be rejected")
	} else if !IsAuthFailure(err) {
		t.Errorf("refresh rejection should classify as auth failure: %v", err)
	}
}
