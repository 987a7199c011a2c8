// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http/httpproxy"

	"github.com/bureau-foundation/eventmesh/lib/netutil"
	"github.com/bureau-foundation/eventmesh/lib/secret"
	"github.com/bureau-foundation/eventmesh/lib/version"
)

// MaxTokenResponseSize bounds the token response body.
const MaxTokenResponseSize int64 = 655360

const (
	tokenPath           = "/oauth/token"
	defaultTokenTimeout = 30 * time.Second
	statusBodyExcerpt   = 256
)

// TokenClientConfig configures a TokenClient.
type TokenClientConfig struct {
	// Properties supplies http.proxyHost, http.proxyPort,
	// https.proxyHost, https.proxyPort and http.nonProxyHosts. Nil means
	// a direct connection.
	Properties PropertyLookup

	// HTTPClient replaces the default client. Proxy properties and
	// Timeout are then ignored.
	HTTPClient *http.Client

	// Timeout bounds one token request. Defaults to 30s.
	Timeout time.Duration

	// UserAgent defaults to version.UserAgent().
	UserAgent string

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger

	Metrics        *Metrics
	TracerProvider trace.TracerProvider
}

// TokenClient performs the OAuth2 client-credentials grant. Each call
// is one request on a fresh connection; there is no retry and no
// caching (see TokenCache).
type TokenClient struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
}

// NewTokenClient creates a TokenClient. It fails only on malformed
// proxy properties.
func NewTokenClient(config TokenClientConfig) (*TokenClient, error) {
	httpClient := config.HTTPClient
	if httpClient == nil {
		proxy, err := ProxyFromProperties(config.Properties)
		if err != nil {
			return nil, errors.Wrap(err, "messaging: token client")
		}
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultTokenTimeout
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               proxy,
				DisableKeepAlives:   true,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: timeout,
		}
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenClient{
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
		metrics:    config.Metrics,
		tracer:     tracerFrom(config.TracerProvider),
	}, nil
}

// FetchToken requests an access token. Every failure is an *AuthError;
// the returned buffer belongs to the caller.
func (c *TokenClient) FetchToken(ctx context.Context, settings AuthSettings) (token *secret.Buffer, err error) {
	ctx, span := startSpan(ctx, c.tracer, "eventmesh.token.fetch", "")
	defer func() {
		c.metrics.tokenFetched(err)
		endSpan(span, err)
	}()

	fail := func(cause error) (*secret.Buffer, error) {
		return nil, &AuthError{TokenURL: settings.TokenURL, Err: cause}
	}

	if err := settings.Validate(); err != nil {
		return fail(err)
	}
	requestURL, err := TokenRequestURL(settings.TokenURL)
	if err != nil {
		return fail(err)
	}

	// The secret leaves protected memory only for the lifetime of this
	// request.
	clientSecret := settings.ClientSecret.String()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL,
		strings.NewReader(TokenRequestBody(settings.ClientID, clientSecret)))
	if err != nil {
		return fail(errors.Wrap(err, "building token request"))
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", c.userAgent)
	request.Header.Set("Authorization", BasicAuthorization(settings.ClientID, clientSecret))

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fail(errors.Wrap(err, "token request"))
	}
	defer response.Body.Close()

	raw, err := netutil.ReadBounded(response.Body, MaxTokenResponseSize)
	if err != nil {
		if errors.Is(err, netutil.ErrTooLarge) {
			return fail(&ResponseTooLargeError{Limit: MaxTokenResponseSize})
		}
		return fail(errors.Wrap(err, "reading token response"))
	}
	text := netutil.DecodeText(raw, netutil.CharsetFromContentType(response.Header.Get("Content-Type")))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		excerpt := text
		if len(excerpt) > statusBodyExcerpt {
			excerpt = excerpt[:statusBodyExcerpt]
		}
		return fail(&TokenStatusError{StatusCode: response.StatusCode, Body: excerpt})
	}

	value, err := ExtractAccessToken(text)
	if err != nil {
		return fail(err)
	}
	token, err = secret.NewFromString(value)
	if err != nil {
		return fail(err)
	}

	c.logger.Debug("access token obtained",
		"token_url", settings.TokenURL,
		"client_id", settings.ClientID,
		"fingerprint", Fingerprint(token),
	)
	return token, nil
}

// TokenRequestURL appends /oauth/token to the path unless it is already
// there, and sets grant_type=client_credentials in the query.
func TokenRequestURL(tokenURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(tokenURL))
	if err != nil {
		return "", errors.Wrap(err, "parsing token URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.Errorf("token URL %q must be http or https", tokenURL)
	}
	if parsed.Host == "" {
		return "", errors.Errorf("token URL %q has no host", tokenURL)
	}
	if !strings.HasSuffix(parsed.Path, tokenPath) {
		parsed.Path = strings.TrimRight(parsed.Path, "/") + tokenPath
		parsed.RawPath = ""
	}
	query := parsed.Query()
	query.Set("grant_type", string(GrantClientCredentials))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// TokenRequestBody builds the form body. Field order is fixed.
func TokenRequestBody(clientID, clientSecret string) string {
	return "client_id=" + url.QueryEscape(clientID) +
		"&client_secret=" + url.QueryEscape(clientSecret) +
		"&grant_type=" + string(GrantClientCredentials) +
		"&response_type=token"
}

// BasicAuthorization returns the Authorization header value for id and
// secret, encoded as ISO-8859-1 rather than UTF-8.
func BasicAuthorization(clientID, clientSecret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString(netutil.EncodeLatin1(clientID+":"+clientSecret))
}

// ExtractAccessToken scans text for the literal "access_token" key and
// returns the quoted string that follows it. It is not a JSON parser:
// only the key, the colon and the quoted value are checked. Backslash
// escapes are resolved by dropping the backslash.
func ExtractAccessToken(text string) (string, error) {
	const key = `"access_token"`
	const whitespace = " \t\r\n"

	index := strings.Index(text, key)
	if index < 0 {
		return "", &TokenExtractionError{Reason: "access_token not found in response"}
	}
	rest := strings.TrimLeft(text[index+len(key):], whitespace)
	if !strings.HasPrefix(rest, ":") {
		return "", &TokenExtractionError{Reason: "missing ':' after access_token"}
	}
	rest = strings.TrimLeft(rest[1:], whitespace)
	if !strings.HasPrefix(rest, `"`) {
		return "", &TokenExtractionError{Reason: "access_token value is not a quoted string"}
	}
	rest = rest[1:]

	var value strings.Builder
	escaped := false
	for i := 0; i < len(rest); i++ {
		ch := rest[i]
		switch {
		case escaped:
			value.WriteByte(ch)
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			if value.Len() == 0 {
				return "", &TokenExtractionError{Reason: "access_token is empty"}
			}
			return value.String(), nil
		default:
			value.WriteByte(ch)
		}
	}
	return "", &TokenExtractionError{Reason: "unterminated access_token value"}
}

// Fingerprint identifies a token in logs without revealing it: the
// first 8 bytes of its BLAKE3 hash, hex-encoded.
func Fingerprint(token *secret.Buffer) string {
	if token == nil || token.Closed() {
		return ""
	}
	sum := blake3.Sum256(token.Bytes())
	return hex.EncodeToString(sum[:8])
}

// ProxyFromProperties builds the proxy function for the token client.
// http.proxyHost/http.proxyPort win over https.proxyHost/https.proxyPort;
// ports default to 80 and 443. http.nonProxyHosts ("a|*.b") excludes
// hosts. Returns nil for a direct connection.
func ProxyFromProperties(properties PropertyLookup) (func(*http.Request) (*url.URL, error), error) {
	proxyURL, err := SelectProxy(properties)
	if err != nil || proxyURL == nil {
		return nil, err
	}
	config := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
	}
	if nonProxy, ok := properties.Lookup("http.nonProxyHosts"); ok {
		config.NoProxy = noProxyList(nonProxy)
	}
	proxyFunc := config.ProxyFunc()
	return func(request *http.Request) (*url.URL, error) {
		return proxyFunc(request.URL)
	}, nil
}

// SelectProxy returns the configured proxy, or nil for none.
func SelectProxy(properties PropertyLookup) (*url.URL, error) {
	if properties == nil {
		return nil, nil
	}
	for _, candidate := range []struct {
		prefix      string
		defaultPort string
	}{
		{"http", "80"},
		{"https", "443"},
	} {
		host, ok := properties.Lookup(candidate.prefix + ".proxyHost")
		if !ok {
			continue
		}
		port, ok := properties.Lookup(candidate.prefix + ".proxyPort")
		if !ok {
			port = candidate.defaultPort
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return nil, errors.Errorf("invalid %s.proxyPort %q", candidate.prefix, port)
		}
		return &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}, nil
	}
	return nil, nil
}

// noProxyList converts the JVM "a|*.b" form to the NO_PROXY "a,.b" form.
func noProxyList(nonProxyHosts string) string {
	var hosts []string
	for _, host := range strings.Split(nonProxyHosts, "|") {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if host != "*" {
			host = strings.TrimPrefix(host, "*")
		}
		hosts = append(hosts, host)
	}
	return strings.Join(hosts, ",")
}
