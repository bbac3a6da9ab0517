package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidDevice is returned when a device id is empty or too long.
var ErrInvalidDevice = errors.New("device_id is required (max 255 chars)")

// Repository persists devices and the refresh tokens issued to them.
type Repository interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error
	// ConsumeRefreshToken revokes the token and reports whether it was live.
	ConsumeRefreshToken(ctx context.Context, deviceID, token string, now time.Time) (bool, error)
}

// Options configures token issuance.
type Options struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service registers mobile devices and rotates their tokens.
type Service struct {
	repo Repository
	opts Options
	log  *zap.Logger
	now  func() time.Time
}

func NewService(repo Repository, opts Options, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, opts: opts, log: log, now: time.Now}
}

// Register records a device and issues its first token pair.
func (s *Service) Register(ctx context.Context, deviceID string) (TokenPair, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" || len(deviceID) > 255 {
		return TokenPair{}, ErrInvalidDevice
	}
	if err := s.repo.UpsertDevice(ctx, deviceID); err != nil {
		return TokenPair{}, err
	}
	pair, err := s.issue(ctx, deviceID)
	if err != nil {
		return TokenPair{}, err
	}
	s.log.Info("device registered", zap.String("device_id", deviceID))
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// accepted once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := Parse(refreshToken, s.opts.SigningKey, s.opts.Issuer, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	live, err := s.repo.ConsumeRefreshToken(ctx, claims.Subject, refreshToken, s.now())
	if err != nil {
		return TokenPair{}, err
	}
	if !live {
		s.log.Warn("refresh token reused or revoked", zap.String("device_id", claims.Subject))
		return TokenPair{}, ErrInvalidToken
	}
	return s.issue(ctx, claims.Subject)
}

// Verify validates an access token and returns the device id.
func (s *Service) Verify(accessToken string) (string, error) {
	claims, err := Parse(accessToken, s.opts.SigningKey, s.opts.Issuer, KindAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *Service) issue(ctx context.Context, deviceID string) (TokenPair, error) {
	pair, err := Issue(deviceID, s.opts.Issuer, s.opts.SigningKey, s.now(), s.opts.AccessTTL, s.opts.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.repo.SaveRefreshToken(ctx, deviceID, pair.RefreshToken, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}
