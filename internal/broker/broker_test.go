package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testCreds() Credentials {
	return Credentials{
		AccessToken: "bearer-token",
		Mobile:      "+911234567890",
		UCC:         "AB123",
		MPIN:        "123456",
		// "Hello!" style RFC 4648 test vector secret
		TOTPSecret: "JBSWY3DPEHPK3PXP",
	}
}

func TestGenerateTOTP(t *testing.T) {
	// RFC 6238 test vector: secret "12345678901234567890" (base32
	// GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ) at 1970-01-01T00:00:59Z -> 287082.
	code, err := generateTOTP("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", time.Unix(59, 0))
	require.NoError(t, err)
	assert.Equal(t, "287082", code)
}

func TestGenerateTOTPRejectsBadSecret(t *testing.T) {
	_, err := generateTOTP("", time.Now())
	require.Error(t, err)

	_, err = generateTOTP("not-base32!!", time.Now())
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	var loginSeen, validateSeen bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bearer-token", r.Header.Get("Authorization"))
		require.Equal(t, "neotradeapi", r.Header.Get("neo-fin-key"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/login":
			loginSeen = true
			assert.Equal(t, "AB123", body["ucc"])
			assert.Len(t, body["totp"], 6)
			_, _ = w.Write([]byte(`{"data":{"token":"view-token","sid":"view-sid"}}`))
		case "/validate":
			validateSeen = true
			assert.Equal(t, "123456", body["mpin"])
			assert.Equal(t, "view-sid", r.Header.Get("sid"))
			assert.Equal(t, "view-token", r.Header.Get("Auth"))
			_, _ = w.Write([]byte(`{"data":{"token":"trade-token","sid":"trade-sid","baseUrl":"https://trade.example.com"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(testCreds(), srv.URL+"/login", srv.URL+"/validate", testLogger()).
		WithHTTPClient(srv.Client())

	assert.False(t, client.IsAuthenticated())
	assert.Nil(t, client.Session())

	session, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.True(t, loginSeen)
	assert.True(t, validateSeen)
	assert.Equal(t, "trade-token", session.Token)
	assert.Equal(t, "https://trade.example.com", session.BaseURL)

	assert.True(t, client.IsAuthenticated())
	assert.Equal(t, session, client.Session())
}

func TestAuthenticateLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"invalid totp"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(testCreds(), srv.URL+"/login", srv.URL+"/validate", testLogger()).
		WithHTTPClient(srv.Client())

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOTP login failed")
	assert.False(t, client.IsAuthenticated())
}

func TestAuthenticateIncompleteSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			_, _ = w.Write([]byte(`{"data":{"token":"view-token","sid":"view-sid"}}`))
			return
		}
		// Missing baseUrl.
		_, _ = w.Write([]byte(`{"data":{"token":"trade-token","sid":"trade-sid"}}`))
	}))
	defer srv.Close()

	client := NewClient(testCreds(), srv.URL+"/login", srv.URL+"/validate", testLogger()).
		WithHTTPClient(srv.Client())

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete session")
}
