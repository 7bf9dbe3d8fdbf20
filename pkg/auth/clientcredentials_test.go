package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "pims/pkg/domain-errors"
)

func testKeyPair(t *testing.T) (certPEM, keyPEM []byte, pub *rsa.PublicKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pims-client-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM, &key.PublicKey
}

func TestClientCredentialsToken(t *testing.T) {
	certPEM, keyPEM, pub := testKeyPair(t)

	var calls int
	var lastAssertion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "client-1", r.Form.Get("client_id"))
		assert.Equal(t, "api://api-1/.default", r.Form.Get("scope"))
		assert.Equal(t,
			"urn:ietf:params:oauth:client-assertion-type:jwt-bearer",
			r.Form.Get("client_assertion_type"))
		lastAssertion = r.Form.Get("client_assertion")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-abc",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	provider, err := NewClientCredentials("tenant-1", "client-1", "api-1", certPEM, keyPEM,
		WithAuthorityURL(srv.URL))
	require.NoError(t, err)

	token, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-abc", token)
	assert.Equal(t, 1, calls)

	// The assertion must be verifiable with the certificate's public key and
	// name the service principal on both issuer and subject.
	parsed, err := jwt.ParseWithClaims(lastAssertion, &jwt.RegisteredClaims{},
		func(tok *jwt.Token) (any, error) { return pub, nil })
	require.NoError(t, err)
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, "client-1", claims.Issuer)
	assert.Equal(t, "client-1", claims.Subject)
	assert.NotEmpty(t, parsed.Header["x5t"])

	// Second call inside the token lifetime hits the cache.
	token, err = provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-abc", token)
	assert.Equal(t, 1, calls)
}

func TestClientCredentialsRefreshesExpiredToken(t *testing.T) {
	certPEM, keyPEM, _ := testKeyPair(t)

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// expires_in of zero makes every cached token immediately stale.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "short-lived",
			"expires_in":   0,
		})
	}))
	defer srv.Close()

	provider, err := NewClientCredentials("tenant-1", "client-1", "api-1", certPEM, keyPEM,
		WithAuthorityURL(srv.URL))
	require.NoError(t, err)

	_, err = provider.Token(context.Background())
	require.NoError(t, err)
	_, err = provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClientCredentialsErrorResponses(t *testing.T) {
	certPEM, keyPEM, _ := testKeyPair(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	provider, err := NewClientCredentials("tenant-1", "client-1", "api-1", certPEM, keyPEM,
		WithAuthorityURL(srv.URL))
	require.NoError(t, err)

	_, err = provider.Token(context.Background())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuth))
}

func TestNewClientCredentialsValidation(t *testing.T) {
	certPEM, keyPEM, _ := testKeyPair(t)

	_, err := NewClientCredentials("", "client", "api", certPEM, keyPEM)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuth))

	_, err = NewClientCredentials("tenant", "client", "api", []byte("not pem"), keyPEM)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuth))

	_, err = NewClientCredentials("tenant", "client", "api", certPEM, []byte("not pem"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuth))
}

func TestStaticToken(t *testing.T) {
	token, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = StaticToken("").Token(context.Background())
	require.Error(t, err)
}

func TestThumbprintIsStable(t *testing.T) {
	certPEM, keyPEM, _ := testKeyPair(t)
	provider, err := NewClientCredentials("tenant", "client", "api", certPEM, keyPEM)
	require.NoError(t, err)
	assert.Len(t, provider.Thumbprint(), 40) // hex SHA-1
}
