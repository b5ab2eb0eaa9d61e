package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rryowa/journalgate/internal/models"
	"github.com/rryowa/journalgate/internal/storage"
	"github.com/rryowa/journalgate/internal/util"
)

var (
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenMalformed       = errors.New("token is malformed")
	ErrTokenNotYetValid     = errors.New("token not yet valid")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrRefreshTokenReused   = errors.New("refresh token reused")
	ErrInvalidSigningMethod = errors.New("invalid signing method")
)

type TokenService struct {
	JwtSecretKey []byte
	issuer       string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	sessions     storage.SessionRepository
	events       SecurityEventNotifier
	now          func() time.Time
}

type TokenOption func(*TokenService)

// WithClock replaces time.Now for issuing and verifying tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(ts *TokenService) { ts.now = now }
}

func WithSecurityEvents(n SecurityEventNotifier) TokenOption {
	return func(ts *TokenService) { ts.events = n }
}

func NewTokenService(cfg *util.TokenConfig, sessions storage.SessionRepository, opts ...TokenOption) *TokenService {
	ts := &TokenService{
		JwtSecretKey: cfg.JwtSecretKey,
		issuer:       cfg.Issuer,
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
		sessions:     sessions,
		events:       NopNotifier{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

type jwtClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// RefreshResult is what a successful refresh hands back to the caller.
type RefreshResult struct {
	AccessToken  string
	Claims       *models.TokenClaims
	RefreshToken string
}

func (ts *TokenService) RefreshTTL() time.Duration { return ts.refreshTTL }

// IssueAccessToken создает HS512 signed access токен с новым JTI
func (ts *TokenService) IssueAccessToken(userID string) (string, *models.TokenClaims, error) {
	if userID == "" {
		return "", nil, ErrTokenInvalid
	}
	now := ts.now()
	exp := now.Add(ts.accessTTL)

	claims := &jwtClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signedToken, err := token.SignedString(ts.JwtSecretKey)
	if err != nil {
		return "", nil, fmt.Errorf("signed string: %w", err)
	}

	return signedToken, &models.TokenClaims{
		UserID:    userID,
		IssuedAt:  claims.IssuedAt.UTC(),
		ExpiresAt: claims.ExpiresAt.UTC(),
	}, nil
}

// Verify checks signature and time claims of an access token. It has no
// side effects.
func (ts *TokenService) Verify(token string) (*models.TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}

	parsedToken, err := jwt.ParseWithClaims(
		token,
		&jwtClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS512.Alg() {
				return nil, ErrInvalidSigningMethod
			}
			return ts.JwtSecretKey, nil
		},
		opts...,
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}

	if parsedToken == nil || !parsedToken.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsedToken.Claims.(*jwtClaims)
	if !ok || claims.UserID == "" || claims.IssuedAt == nil {
		return nil, ErrTokenInvalid
	}

	return &models.TokenClaims{
		UserID:    claims.UserID,
		IssuedAt:  claims.IssuedAt.UTC(),
		ExpiresAt: claims.ExpiresAt.UTC(),
	}, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %w", ErrTokenNotYetValid, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
}

// IssueRefreshToken creates a refresh session for userID and returns the
// opaque "selector.verifier" token.
func (ts *TokenService) IssueRefreshToken(ctx context.Context, userID string, meta models.UserMetadata) (string, error) {
	token, selector, verifierHash, err := ts.createRefreshToken()
	if err != nil {
		return "", err
	}

	now := ts.now()
	session := models.RefreshSession{
		Selector:     selector,
		VerifierHash: verifierHash,
		UserID:       userID,
		Status:       models.SessionActive,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IPAddress,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ts.refreshTTL),
	}
	if err := ts.sessions.CreateSession(ctx, session, ts.refreshTTL); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return token, nil
}

// Refresh exchanges a refresh token for a new access token. The presented
// session is consumed and replaced by a new one; presenting a consumed
// token again revokes every session of its user.
func (ts *TokenService) Refresh(ctx context.Context, refreshToken string, meta models.UserMetadata) (*RefreshResult, error) {
	selector, verifier, err := splitRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	session, err := ts.sessions.GetSession(ctx, selector)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := validateVerifier(verifier, session.VerifierHash); err != nil {
		return nil, err
	}
	if !ts.now().Before(session.ExpiresAt) {
		return nil, ErrInvalidRefreshToken
	}

	if session.Status == models.SessionUsed {
		return nil, ts.reuseDetected(ctx, session.UserID, meta)
	}

	// Consuming is a compare-and-set; a concurrent replay that passed the
	// status check above loses here.
	if err := ts.sessions.MarkSessionAsUsed(ctx, selector); err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionAlreadyUsed):
			return nil, ts.reuseDetected(ctx, session.UserID, meta)
		case errors.Is(err, storage.ErrSessionNotFound):
			return nil, ErrInvalidRefreshToken
		default:
			return nil, fmt.Errorf("mark session as used: %w", err)
		}
	}

	newRefresh, err := ts.IssueRefreshToken(ctx, session.UserID, meta)
	if err != nil {
		return nil, err
	}

	access, claims, err := ts.IssueAccessToken(session.UserID)
	if err != nil {
		return nil, err
	}

	return &RefreshResult{AccessToken: access, Claims: claims, RefreshToken: newRefresh}, nil
}

// reuseDetected revokes every session of userID and reports the replay.
func (ts *TokenService) reuseDetected(ctx context.Context, userID string, meta models.UserMetadata) error {
	if err := ts.sessions.DeleteAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	ts.events.Notify(ctx, SecurityEvent{
		Type:      EventRefreshTokenReuse,
		UserID:    userID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return fmt.Errorf("%w: %w", ErrInvalidRefreshToken, ErrRefreshTokenReused)
}

// RevokeUserSessions removes every refresh session of userID.
func (ts *TokenService) RevokeUserSessions(ctx context.Context, userID string) error {
	if err := ts.sessions.DeleteAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

// RevokeRefreshToken removes the session behind refreshToken. Unknown or
// malformed tokens are ignored.
func (ts *TokenService) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	selector, _, err := splitRefreshToken(refreshToken)
	if err != nil {
		return nil
	}
	if err := ts.sessions.DeleteSession(ctx, selector); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (ts *TokenService) createRefreshToken() (token, selector, verifierHash string, err error) {
	rawToken := make([]byte, util.RawTokenLength)
	if _, err = rand.Read(rawToken); err != nil {
		return "", "", "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	selector = base64.RawURLEncoding.EncodeToString(rawToken[:16])
	verifier := base64.RawURLEncoding.EncodeToString(rawToken[16:])

	hashedVerifierBytes := sha256.Sum256([]byte(verifier))
	verifierHash = hex.EncodeToString(hashedVerifierBytes[:])

	token = selector + "." + verifier

	return token, selector, verifierHash, nil
}

func splitRefreshToken(token string) (selector, verifier string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != util.TokenPartsExpected || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidRefreshToken
	}
	return parts[0], parts[1], nil
}

func validateVerifier(verifier, verifierHash string) error {
	hashedVerifierBytes, err := hex.DecodeString(verifierHash)
	if err != nil {
		return fmt.Errorf("failed to decode stored hash: %w", err)
	}

	newHashBytes := sha256.Sum256([]byte(verifier))

	if subtle.ConstantTimeCompare(newHashBytes[:], hashedVerifierBytes) != 1 {
		return ErrInvalidRefreshToken
	}

	return nil
}
