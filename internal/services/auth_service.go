package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"translation-gateway/configs"
	"translation-gateway/internal/apperrors"
	"translation-gateway/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore persists installations and their credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, installID string) (*models.AuthCredential, error)
	SaveCredential(ctx context.Context, cred *models.AuthCredential) error
	UpsertInstallation(ctx context.Context, inst *models.Installation) error
	TouchLastSeen(ctx context.Context, installID string, seen time.Time) error
}

// AuthService verifies installation identity and request integrity, and
// handles the unauthenticated registration bootstrap.
type AuthService struct {
	store  CredentialStore
	cfg    *configs.Config
	logger *zap.Logger
	now    func() time.Time
}

func NewAuthService(store CredentialStore, cfg *configs.Config, logger *zap.Logger) *AuthService {
	return &AuthService{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	InstallID string
}

// Verify checks the three required auth values against the stored
// credential. Failures are typed so handlers can map them to statuses.
func (s *AuthService) Verify(ctx context.Context, installID, timestamp, signature, bearer string) (*Identity, error) {
	if installID == "" || timestamp == "" || signature == "" || bearer == "" {
		return nil, authErr(apperrors.ErrMissingAuthHeaders, "missing_auth_headers", "missing required authentication headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, authErr(apperrors.ErrTimestampOutOfRange, "invalid_timestamp", "timestamp is not a unix epoch value")
	}
	now := s.now()
	drift := now.Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > s.cfg.TimestampSkew {
		return nil, authErr(apperrors.ErrTimestampOutOfRange, "timestamp_expired", "request timestamp outside the allowed window")
	}

	cred, err := s.store.GetCredential(ctx, installID)
	if err != nil {
		return nil, apperrors.Database("credential lookup failed", err)
	}
	if cred == nil {
		return nil, authErr(apperrors.ErrUnknownInstallation, "unknown_installation", "installation is not registered")
	}
	if now.After(cred.ExpiresAt) {
		return nil, authErr(apperrors.ErrCredentialExpired, "credential_expired", "credential has expired, re-register or refresh")
	}

	expected := Sign(cred.SharedKey, installID, timestamp)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return nil, authErr(apperrors.ErrInvalidSignature, "invalid_signature", "request signature does not match")
	}
	if subtle.ConstantTimeCompare([]byte(cred.SharedKey), []byte(bearer)) != 1 {
		return nil, authErr(apperrors.ErrInvalidSignature, "invalid_token", "bearer token does not match the issued credential")
	}

	if err := s.store.TouchLastSeen(ctx, installID, now); err != nil {
		s.logger.Warn("last_seen update failed", zap.Error(err))
	}

	return &Identity{InstallID: installID}, nil
}

// Sign computes the request signature: HMAC-SHA256 over installID "-" timestamp.
func Sign(sharedKey, installID, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(sharedKey))
	mac.Write([]byte(installID + "-" + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// RegisterResult is returned once at issuance; the shared key is never
// transmitted again afterwards.
type RegisterResult struct {
	Token        string
	RefreshToken string
	ExpiresIn    int64
}

// Register issues a fresh credential keyed to a client-supplied installation
// id. The id's shape must already have been validated.
func (s *AuthService) Register(ctx context.Context, installID, clientVersion, platform string) (*RegisterResult, error) {
	key, err := randomKey()
	if err != nil {
		return nil, apperrors.Unknown(fmt.Errorf("key generation: %w", err))
	}

	now := s.now()
	cred := &models.AuthCredential{
		InstallID: installID,
		SharedKey: key,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.CredentialTTL),
	}
	if err := s.store.SaveCredential(ctx, cred); err != nil {
		return nil, apperrors.Database("credential save failed", err)
	}

	inst := &models.Installation{
		InstallID:     installID,
		ClientVersion: clientVersion,
		Platform:      platform,
		RegisteredAt:  now,
		LastSeen:      now,
	}
	if err := s.store.UpsertInstallation(ctx, inst); err != nil {
		return nil, apperrors.Database("installation save failed", err)
	}

	refresh, err := s.issueRefreshToken(installID, now)
	if err != nil {
		return nil, apperrors.Unknown(err)
	}

	return &RegisterResult{
		Token:        key,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.CredentialTTL.Seconds()),
	}, nil
}

// Refresh re-issues a credential for a valid refresh token without going
// through full registration again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, clientVersion, platform string) (*RegisterResult, error) {
	claims := &refreshClaims{}
	token, err := jwt.ParseWithClaims(refreshToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid || claims.InstallID == "" {
		return nil, authErr(apperrors.ErrInvalidSignature, "invalid_refresh_token", "refresh token is invalid or expired")
	}

	return s.Register(ctx, claims.InstallID, clientVersion, platform)
}

type refreshClaims struct {
	InstallID string `json:"install_id"`
	jwt.RegisteredClaims
}

func (s *AuthService) issueRefreshToken(installID string, now time.Time) (string, error) {
	claims := &refreshClaims{
		InstallID: installID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "translation-gateway",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// VerifyAdminKey guards the ops endpoints (usage stream, stats) with a
// bcrypt-hashed key from configuration.
func (s *AuthService) VerifyAdminKey(key string) bool {
	if s.cfg.AdminKeyBcryptHash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminKeyBcryptHash), []byte(key)) == nil
}

func randomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func authErr(sentinel error, code, message string) *apperrors.Error {
	e := apperrors.Authentication(code, message)
	e.Err = sentinel
	return e
}

// IsAuthFailure reports whether an error is one of the typed auth failures.
func IsAuthFailure(err error) bool {
	return errors.Is(err, apperrors.ErrMissingAuthHeaders) ||
		errors.Is(err, apperrors.ErrTimestampOutOfRange) ||
		errors.Is(err, apperrors.ErrInvalidSignature) ||
		errors.Is(err, apperrors.ErrUnknownInstallation) ||
		errors.Is(err, apperrors.ErrCredentialExpired)
}
