package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/core/apperror"
)

func TestClient_Lookup(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":" ACME SAS ","email":"AP@ACME.CO","id_type":"31"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/parties/", time.Second, WithToken("secret"))
	require.NoError(t, err)

	party, err := c.Lookup(context.Background(), "900123456")
	require.NoError(t, err)
	assert.Equal(t, "/parties/900123456", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "ACME SAS", party.Name)
	assert.Equal(t, "ap@acme.co", party.Email)
	assert.Equal(t, "31", party.IDType)
}

func TestClient_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, apperror.Is(err, apperror.CodeConnectionUnavailable))
}

func TestClient_ServerErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.False(t, apperror.IsAppError(err))
}

func TestClient_TimeoutIsConnectionUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeConnectionUnavailable))
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient("  ", time.Second)
	assert.Error(t, err)
}
