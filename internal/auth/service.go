package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/crowdfund/internal/config"
	"github.com/congo-pay/crowdfund/internal/identity"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned when the token predates the user's last logout.
	ErrTokenRevoked = errors.New("token version invalidated")
)

// Claims is the verified subject of an access token.
type Claims struct {
	UserID       string
	TokenVersion int
}

// Service issues and verifies HS256 access and refresh tokens.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
	now    func() time.Time
}

// NewService builds a token service.
func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo, now: time.Now}
}

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues a token pair for an already authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	access, err := s.sign(user.ID, user.TokenVersion, tokenTypeAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(user.ID, user.TokenVersion, tokenTypeRefresh, s.cfg.RefreshSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

func (s *Service) sign(userID string, version int, typ, secret string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := map[string]any{
		"sub": userID,
		"ver": version,
		"typ": typ,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return SignHS256(claims, []byte(secret))
}

// VerifyAccess checks an access token and that it was issued for the user's
// current token version.
func (s *Service) VerifyAccess(ctx context.Context, token string) (Claims, error) {
	return s.verify(ctx, token, tokenTypeAccess, s.cfg.JWTSecret)
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := s.verify(ctx, refreshToken, tokenTypeRefresh, s.cfg.RefreshSecret)
	if err != nil {
		return "", 0, err
	}
	signed, err := s.sign(claims.UserID, claims.TokenVersion, tokenTypeAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Logout increments the token version so every outstanding token becomes invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

func (s *Service) verify(ctx context.Context, token, typ, secret string) (Claims, error) {
	raw, err := ParseAndVerifyHS256(token, []byte(secret), s.now())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if t, _ := raw["typ"].(string); t != typ {
		return Claims{}, fmt.Errorf("%w: expected %s token", ErrInvalidToken, typ)
	}
	sub, _ := raw["sub"].(string)
	ver, _ := raw["ver"].(float64)

	user, err := s.idRepo.FindByID(ctx, sub)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if user.TokenVersion != int(ver) {
		return Claims{}, ErrTokenRevoked
	}
	return Claims{UserID: user.ID, TokenVersion: user.TokenVersion}, nil
}
