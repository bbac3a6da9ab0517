package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schooltrack/internal/auth"
	"schooltrack/internal/store/memstore"
)

var opts = auth.Options{
	Issuer:     "schooltrack-test",
	SigningKey: "test-signing-key",
	AccessTTL:  time.Minute,
	RefreshTTL: time.Hour,
}

func TestRegisterAndVerify(t *testing.T) {
	svc := auth.NewService(memstore.New(), opts, zap.NewNop())

	pair, err := svc.Register(context.Background(), "  tablet-7 ")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	id, err := svc.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tablet-7", id)

	// A refresh token is not an access token.
	_, err = svc.Verify(pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestRegisterRejectsBadDeviceID(t *testing.T) {
	svc := auth.NewService(memstore.New(), opts, zap.NewNop())
	_, err := svc.Register(context.Background(), "   ")
	assert.ErrorIs(t, err, auth.ErrInvalidDevice)
	_, err = svc.Register(context.Background(), strings.Repeat("x", 256))
	assert.ErrorIs(t, err, auth.ErrInvalidDevice)
}

func TestRefreshRotates(t *testing.T) {
	ctx := context.Background()
	svc := auth.NewService(memstore.New(), opts, zap.NewNop())

	first, err := svc.Register(ctx, "tablet-1")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The consumed token cannot be replayed.
	_, err = svc.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, second.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestParseRejectsForeignTokens(t *testing.T) {
	now := time.Now()
	pair, err := auth.Issue("tablet-1", "someone-else", opts.SigningKey, now, time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = auth.Parse(pair.AccessToken, opts.SigningKey, opts.Issuer, auth.KindAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	pair, err = auth.Issue("tablet-1", opts.Issuer, "other-key", now, time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = auth.Parse(pair.AccessToken, opts.SigningKey, opts.Issuer, auth.KindAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	pair, err = auth.Issue("tablet-1", opts.Issuer, opts.SigningKey, now.Add(-2*time.Hour), time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = auth.Parse(pair.AccessToken, opts.SigningKey, opts.Issuer, auth.KindAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = auth.Parse("not-a-jwt", opts.SigningKey, opts.Issuer, auth.KindAccess)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestDeviceAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := auth.NewService(memstore.New(), opts, zap.NewNop())
	pair, err := svc.Register(context.Background(), "tablet-9")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", auth.DeviceAuth(svc), func(c *gin.Context) {
		c.String(http.StatusOK, auth.DeviceID(c))
	})

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"refresh token", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"valid", "Bearer " + pair.AccessToken, http.StatusOK},
		{"lowercase scheme", "bearer " + pair.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, "tablet-9", w.Body.String())
			}
		})
	}
}
