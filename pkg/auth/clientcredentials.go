package auth

import (
	"context"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // x5t thumbprints are defined over SHA-1
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "pims/pkg/domain-errors"
)

// DefaultAuthorityURL is the Microsoft identity platform endpoint used when
// no authority is configured.
const DefaultAuthorityURL = "https://login.microsoftonline.com"

// refreshMargin is subtracted from the token lifetime so we never hand out a
// token about to expire mid-request.
const refreshMargin = time.Minute

// ClientCredentials implements the OAuth2 client-credentials flow for a
// service principal that authenticates with a certificate: each token request
// carries a JWT client assertion signed with the private key, with the
// certificate's SHA-1 thumbprint in the x5t header. This is the flow PIMS
// deployments behind the Microsoft identity platform expect from standalone
// services.
type ClientCredentials struct {
	tenantID    string
	clientID    string
	scope       string
	authority   string
	certificate *x509.Certificate
	privateKey  *rsa.PrivateKey
	client      *http.Client
	logger      *slog.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// ClientCredentialsOption configures a ClientCredentials provider.
type ClientCredentialsOption func(*ClientCredentials)

func WithAuthorityURL(u string) ClientCredentialsOption {
	return func(c *ClientCredentials) { c.authority = strings.TrimRight(u, "/") }
}

func WithHTTPClient(client *http.Client) ClientCredentialsOption {
	return func(c *ClientCredentials) { c.client = client }
}

func WithLogger(logger *slog.Logger) ClientCredentialsOption {
	return func(c *ClientCredentials) { c.logger = logger }
}

// NewClientCredentials builds a provider for the given service principal.
// apiID is the Microsoft id of the PIMS API; the requested scope becomes
// "api://<apiID>/.default" (log in as service principal, not on-behalf-of).
func NewClientCredentials(
	tenantID, clientID, apiID string,
	certPEM, keyPEM []byte,
	opts ...ClientCredentialsOption,
) (*ClientCredentials, error) {
	if tenantID == "" || clientID == "" || apiID == "" {
		return nil, dErrors.New(dErrors.CodeAuth, "tenant, client and api ids are all required")
	}
	cert, key, err := parseKeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	c := &ClientCredentials{
		tenantID:    tenantID,
		clientID:    clientID,
		scope:       fmt.Sprintf("api://%s/.default", apiID),
		authority:   DefaultAuthorityURL,
		certificate: cert,
		privateKey:  key,
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token returns the cached access token, refreshing it when absent or within
// the refresh margin of expiry.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expires.Add(-refreshMargin)) {
		return c.token, nil
	}

	token, expiresIn, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expires = time.Now().Add(time.Duration(expiresIn) * time.Second)
	c.logger.Info("access token acquired",
		"client_id", c.clientID, "expires_in_s", expiresIn)
	return c.token, nil
}

// Thumbprint returns the hex SHA-1 thumbprint of the public certificate, as
// shown in the Azure portal. Useful for matching the configured key pair
// against the app registration.
func (c *ClientCredentials) Thumbprint() string {
	sum := sha1.Sum(c.certificate.Raw) //nolint:gosec
	return fmt.Sprintf("%x", sum)
}

func (c *ClientCredentials) acquire(ctx context.Context) (string, int, error) {
	assertion, err := c.signAssertion()
	if err != nil {
		return "", 0, err
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_id":             {c.clientID},
		"scope":                 {c.scope},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {assertion},
	}

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.authority, c.tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeAuth, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeAuth, "token endpoint unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeAuth, "read token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, dErrors.Newf(dErrors.CodeAuth,
			"token endpoint returned status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, dErrors.Wrap(err, dErrors.CodeAuth, "decode token response")
	}
	if parsed.AccessToken == "" {
		return "", 0, dErrors.New(dErrors.CodeAuth, "token response carried no access token")
	}
	return parsed.AccessToken, parsed.ExpiresIn, nil
}

// signAssertion builds the client assertion proving possession of the
// certificate's private key.
func (c *ClientCredentials) signAssertion() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.clientID,
		Subject:   c.clientID,
		Audience:  jwt.ClaimStrings{fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.authority, c.tenantID)},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	sum := sha1.Sum(c.certificate.Raw) //nolint:gosec
	token.Header["x5t"] = base64.RawURLEncoding.EncodeToString(sum[:])

	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeAuth, "sign client assertion")
	}
	return signed, nil
}

func parseKeyPair(certPEM, keyPEM []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, dErrors.New(dErrors.CodeAuth, "certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeAuth, "parse certificate")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, dErrors.New(dErrors.CodeAuth, "private key is not valid PEM")
	}
	key, err := parsePrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuth, "parse private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, dErrors.New(dErrors.CodeAuth, "private key is not RSA")
	}
	return key, nil
}
