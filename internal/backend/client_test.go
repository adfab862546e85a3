package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize_ReturnsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/authorize", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "https://ui.example.com", r.URL.Query().Get("return_to"))
		json.NewEncoder(w).Encode(map[string]string{"state": "tx-123"})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	state, err := c.Authorize(context.Background(), "https://ui.example.com")
	require.NoError(t, err)
	assert.Equal(t, "tx-123", state)
}

func TestReauthorizeState_UsesGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(map[string]string{"state": "fresh"})
	}))
	defer srv.Close()

	state, err := New(srv.URL, nil).ReauthorizeState(context.Background(), "https://ui.example.com")
	require.NoError(t, err)
	assert.Equal(t, "fresh", state)
}

func TestAuthorize_EmptyStateIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Authorize(context.Background(), "x")
	require.Error(t, err, "missing state must not be treated as success")
}

func TestPasswordLogin_ReturnsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login/password/tx-123", r.URL.Path)

		var creds Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "user@example.com", creds.Email)
		assert.Equal(t, "hunter2", creds.Password)

		json.NewEncoder(w).Encode(map[string]string{"redirect": "https://ui.example.com/landing"})
	}))
	defer srv.Close()

	redirect, err := New(srv.URL, nil).PasswordLogin(context.Background(), "tx-123",
		Credentials{Email: "user@example.com", Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "https://ui.example.com/landing", redirect)
}

func TestPasswordLogin_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).PasswordLogin(context.Background(), "tx", Credentials{})
	require.Error(t, err)
}

func TestPasswordLogin_EmptyRedirectIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"redirect": ""})
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).PasswordLogin(context.Background(), "tx", Credentials{})
	require.Error(t, err)
}
