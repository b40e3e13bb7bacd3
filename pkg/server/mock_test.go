package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/voltwatch/voltwatch/pkg/types"
)

const (
	testKeyID    = "test-key"
	testAudience = "test-audience"
	testSecret   = "0123456789abcdef-secret"
)

type mockTicker struct {
	mock.Mock
}

func (m *mockTicker) Tick(ctx context.Context, now time.Time) (types.TickSummary, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(types.TickSummary), args.Error(1)
}

// setupOIDCTest starts an OpenID provider that serves a single signing key.
func setupOIDCTest(t *testing.T) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                srv.URL,
			"jwks_uri":                              srv.URL + "/keys",
			"authorization_endpoint":                srv.URL + "/auth",
			"token_endpoint":                        srv.URL + "/token",
			"id_token_signing_alg_values_supported": []string{string(jose.RS256)},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &priv.PublicKey,
			KeyID:     testKeyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	})
	srv = httptest.NewServer(mux)
	return srv, priv
}

func generateTestToken(t *testing.T, issuer string, priv *rsa.PrivateKey, email string, verified bool) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: priv, KeyID: testKeyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	now := time.Now()
	payload, err := json.Marshal(map[string]any{
		"iss":            issuer,
		"aud":            testAudience,
		"sub":            "sub-" + email,
		"email":          email,
		"email_verified": verified,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	obj, err := signer.Sign(payload)
	require.NoError(t, err)
	raw, err := obj.CompactSerialize()
	require.NoError(t, err)
	return raw
}
