package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	oidcSrv, priv := setupOIDCTest(t)
	defer oidcSrv.Close()
	provider, err := oidc.NewProvider(context.Background(), oidcSrv.URL)
	require.NoError(t, err)

	srv := &Server{
		schedulerSecret: testSecret,
		schedulerEmails: []string{"scheduler@example.iam.gserviceaccount.com"},
		verifyToken:     oidcEmailVerifier(provider.Verifier(&oidc.Config{ClientID: testAudience})),
	}
	handler := srv.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(header, value string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/tick", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}
	errorOf := func(t *testing.T, rr *httptest.ResponseRecorder) string {
		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		return resp["error"]
	}

	t.Run("Secret Header", func(t *testing.T) {
		rr := serve(schedulerSecretHeader, testSecret)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("Wrong Secret Header", func(t *testing.T) {
		rr := serve(schedulerSecretHeader, "nope")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "unauthorized", errorOf(t, rr))
	})

	t.Run("Bearer Secret", func(t *testing.T) {
		rr := serve("Authorization", "Bearer "+testSecret)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("Missing Credentials", func(t *testing.T) {
		rr := serve("", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Malformed Auth Header", func(t *testing.T) {
		rr := serve("Authorization", "Basic abc")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "invalid auth header", errorOf(t, rr))
	})

	t.Run("ID Token Allowed", func(t *testing.T) {
		token := generateTestToken(t, oidcSrv.URL, priv, "scheduler@example.iam.gserviceaccount.com", true)
		rr := serve("Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("ID Token Other Email", func(t *testing.T) {
		token := generateTestToken(t, oidcSrv.URL, priv, "someone@example.com", true)
		rr := serve("Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "forbidden", errorOf(t, rr))
	})

	t.Run("ID Token Unverified Email", func(t *testing.T) {
		token := generateTestToken(t, oidcSrv.URL, priv, "scheduler@example.iam.gserviceaccount.com", false)
		rr := serve("Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("ID Token Wrong Issuer", func(t *testing.T) {
		token := generateTestToken(t, "https://accounts.example.com", priv, "scheduler@example.iam.gserviceaccount.com", true)
		rr := serve("Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Bearer Without Verifier", func(t *testing.T) {
		srv := &Server{schedulerSecret: testSecret}
		handler := srv.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		req := httptest.NewRequest(http.MethodPost, "/api/tick", nil)
		req.Header.Set("Authorization", "Bearer not-the-secret")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, splitList(" a@example.com, ,b@example.com "))
}
