// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/eventmesh/lib/secret"
)

func authSettings(t *testing.T, tokenURL, clientID, clientSecret string) AuthSettings {
	t.Helper()
	buffer, err := secret.NewFromString(clientSecret)
	require.NoError(t, err)
	t.Cleanup(func() { buffer.Close() })
	return AuthSettings{
		GrantType:    GrantClientCredentials,
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: buffer,
	}
}

func newTestTokenClient(t *testing.T, config TokenClientConfig) *TokenClient {
	t.Helper()
	if config.Logger == nil {
		config.Logger = discardLogger()
	}
	client, err := NewTokenClient(config)
	require.NoError(t, err)
	return client
}

func TestFetchTokenRequest(t *testing.T) {
	type captured struct {
		method, path, query, body string
		header                    http.Header
	}
	requests := make(chan captured, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- captured{r.Method, r.URL.Path, r.URL.RawQuery, string(body), r.Header.Clone()}
		w.Header().Set("Content-Type", "application/json;charset=UTF-8")
		io.WriteString(w, `{"access_token":"eyJhbGciOi.payload.sig","token_type":"bearer","expires_in":43199}`)
	}))
	defer server.Close()

	client := newTestTokenClient(t, TokenClientConfig{UserAgent: "eventmesh-client/test"})
	token, err := client.FetchToken(context.Background(), authSettings(t, server.URL+"/oauth/token", "a", "b"))
	require.NoError(t, err)
	defer token.Close()
	require.Equal(t, "eyJhbGciOi.payload.sig", token.String())

	request := <-requests
	require.Equal(t, http.MethodPost, request.method)
	require.Equal(t, "/oauth/token", request.path)
	require.Equal(t, "grant_type=client_credentials", request.query)
	require.Equal(t, "Basic YTpi", request.header.Get("Authorization"))
	require.Equal(t, "application/x-www-form-urlencoded", request.header.Get("Content-Type"))
	require.Equal(t, "application/json", request.header.Get("Accept"))
	require.Equal(t, "eventmesh-client/test", request.header.Get("User-Agent"))
	require.Equal(t, "client_id=a&client_secret=b&grant_type=client_credentials&response_type=token", request.body)
}

func TestTokenRequestURL(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"https://x.example/oauth/token", "https://x.example/oauth/token?grant_type=client_credentials"},
		{"https://x.example", "https://x.example/oauth/token?grant_type=client_credentials"},
		{"https://x.example/", "https://x.example/oauth/token?grant_type=client_credentials"},
		{"https://x.example/uaa", "https://x.example/uaa/oauth/token?grant_type=client_credentials"},
		{"https://x.example/oauth/token?grant_type=client_credentials", "https://x.example/oauth/token?grant_type=client_credentials"},
		{" https://x.example/oauth/token ", "https://x.example/oauth/token?grant_type=client_credentials"},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			got, err := TokenRequestURL(test.input)
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}

	for _, bad := range []string{"ftp://x.example", "x.example/oauth/token", "https://", "://"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := TokenRequestURL(bad)
			require.Error(t, err)
		})
	}
}

func TestBasicAuthorization(t *testing.T) {
	tests := []struct {
		name, id, secret, want string
	}{
		{"ascii", "a", "b", "Basic YTpi"},
		// ü is 0xFC in ISO-8859-1, not the UTF-8 pair 0xC3 0xBC.
		{"latin1", "a", "ü", "Basic YTr8"},
		// € has no ISO-8859-1 form.
		{"unmappable", "a", "€", "Basic YTo/"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, BasicAuthorization(test.id, test.secret))
		})
	}
}

func TestTokenRequestBodyEscapes(t *testing.T) {
	require.Equal(t,
		"client_id=sb%2Bclient%21b1&client_secret=p%26ss%3D&grant_type=client_credentials&response_type=token",
		TokenRequestBody("sb+client!b1", "p&ss="))
}

func TestExtractAccessToken(t *testing.T) {
	tests := []struct {
		name, body, want string
		wantErr          bool
	}{
		{"compact", `{"access_token":"abc"}`, "abc", false},
		{"spaced", "{ \"access_token\" :\n \"abc\" }", "abc", false},
		{"not first", `{"token_type":"bearer","access_token":"xyz","scope":"a"}`, "xyz", false},
		{"escaped slash", `{"access_token":"a\/b"}`, "a/b", false},
		{"missing", `{"token_type":"bearer"}`, "", true},
		{"no colon", `{"access_token" "abc"}`, "", true},
		{"not a string", `{"access_token":42}`, "", true},
		{"empty", `{"access_token":""}`, "", true},
		{"unterminated", `{"access_token":"abc`, "", true},
		{"html error page", `<html>access_token</html>`, "", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ExtractAccessToken(test.body)
			if test.wantErr {
				var extractionErr *TokenExtractionError
				require.ErrorAs(t, err, &extractionErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}

func TestFetchTokenFailures(t *testing.T) {
	ctx := context.Background()

	serve := func(t *testing.T, handler http.HandlerFunc) string {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		return server.URL
	}

	t.Run("non-2xx status", func(t *testing.T) {
		tokenURL := serve(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"unauthorized","error_description":"Bad credentials"}`)
		})
		_, err := newTestTokenClient(t, TokenClientConfig{}).FetchToken(ctx, authSettings(t, tokenURL, "a", "b"))
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		var statusErr *TokenStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
		require.Contains(t, statusErr.Body, "Bad credentials")
	})

	t.Run("response too large", func(t *testing.T) {
		tokenURL := serve(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"access_token":"abc"}`)
			w.Write(make([]byte, int(MaxTokenResponseSize)))
		})
		_, err := newTestTokenClient(t, TokenClientConfig{}).FetchToken(ctx, authSettings(t, tokenURL, "a", "b"))
		var tooLarge *ResponseTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		require.Equal(t, MaxTokenResponseSize, tooLarge.Limit)
		require.True(t, IsAuthError(err))
	})

	t.Run("exactly at the limit", func(t *testing.T) {
		payload := `{"access_token":"abc"}`
		tokenURL := serve(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, payload+strings.Repeat(" ", int(MaxTokenResponseSize)-len(payload)))
		})
		token, err := newTestTokenClient(t, TokenClientConfig{}).FetchToken(ctx, authSettings(t, tokenURL, "a", "b"))
		require.NoError(t, err)
		defer token.Close()
		require.Equal(t, "abc", token.String())
	})

	t.Run("no access_token", func(t *testing.T) {
		tokenURL := serve(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"token_type":"bearer"}`)
		})
		_, err := newTestTokenClient(t, TokenClientConfig{}).FetchToken(ctx, authSettings(t, tokenURL, "a", "b"))
		var extractionErr *TokenExtractionError
		require.ErrorAs(t, err, &extractionErr)
		require.True(t, IsAuthError(err))
	})

	t.Run("unsupported grant type", func(t *testing.T) {
		settings := authSettings(t, "https://x.example", "a", "b")
		settings.GrantType = "password"
		_, err := newTestTokenClient(t, TokenClientConfig{}).FetchToken(ctx, settings)
		require.True(t, IsAuthError(err))
		require.ErrorIs(t, err, ErrUnsupportedGrantType)
	})

	t.Run("network failure", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		tokenURL := server.URL
		server.Close()
		_, err := newTestTokenClient(t, TokenClientConfig{}).FetchToken(ctx, authSettings(t, tokenURL, "a", "b"))
		require.True(t, IsAuthError(err))
	})
}

func TestFetchTokenCharset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=iso-8859-1")
		w.Write([]byte("{\"access_token\":\"caf\xe9\"}"))
	}))
	defer server.Close()

	token, err := newTestTokenClient(t, TokenClientConfig{}).FetchToken(context.Background(), authSettings(t, server.URL, "a", "b"))
	require.NoError(t, err)
	defer token.Close()
	require.Equal(t, "café", token.String())
}

func TestFetchTokenThroughProxy(t *testing.T) {
	proxied := make(chan string, 1)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied <- r.URL.String()
		io.WriteString(w, `{"access_token":"via-proxy"}`)
	}))
	defer proxy.Close()
	proxyURL, err := url.Parse(proxy.URL)
	require.NoError(t, err)

	client := newTestTokenClient(t, TokenClientConfig{Properties: Properties{
		"http.proxyHost": proxyURL.Hostname(),
		"http.proxyPort": proxyURL.Port(),
	}})
	token, err := client.FetchToken(context.Background(),
		authSettings(t, "http://auth.remote.example/oauth/token", "a", "b"))
	require.NoError(t, err)
	defer token.Close()
	require.Equal(t, "via-proxy", token.String())
	require.Equal(t, "http://auth.remote.example/oauth/token?grant_type=client_credentials", <-proxied)
}

func TestSelectProxy(t *testing.T) {
	tests := []struct {
		name       string
		properties Properties
		want       string
		wantErr    bool
	}{
		{"none", Properties{}, "", false},
		{"http", Properties{"http.proxyHost": "proxy.corp", "http.proxyPort": "3128"}, "http://proxy.corp:3128", false},
		{"http default port", Properties{"http.proxyHost": "proxy.corp"}, "http://proxy.corp:80", false},
		{"https fallback", Properties{"https.proxyHost": "secure.corp", "https.proxyPort": "8443"}, "http://secure.corp:8443", false},
		{"https default port", Properties{"https.proxyHost": "secure.corp"}, "http://secure.corp:443", false},
		{"http wins", Properties{"http.proxyHost": "a", "https.proxyHost": "b"}, "http://a:80", false},
		{"blank host ignored", Properties{"http.proxyHost": " ", "https.proxyHost": "b"}, "http://b:443", false},
		{"bad port", Properties{"http.proxyHost": "a", "http.proxyPort": "eighty"}, "", true},
		{"port out of range", Properties{"http.proxyHost": "a", "http.proxyPort": "70000"}, "", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := SelectProxy(test.properties)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if test.want == "" {
				require.Nil(t, got)
				return
			}
			require.Equal(t, test.want, got.String())
		})
	}

	t.Run("nil lookup", func(t *testing.T) {
		got, err := SelectProxy(nil)
		require.NoError(t, err)
		require.Nil(t, got)
	})
}

func TestProxyFromProperties(t *testing.T) {
	proxyFunc, err := ProxyFromProperties(Properties{
		"http.proxyHost":     "proxy.corp",
		"http.proxyPort":     "3128",
		"http.nonProxyHosts": "direct.example|*.internal.example",
	})
	require.NoError(t, err)

	resolve := func(target string) *url.URL {
		request, err := http.NewRequest(http.MethodPost, target, nil)
		require.NoError(t, err)
		proxyURL, err := proxyFunc(request)
		require.NoError(t, err)
		return proxyURL
	}

	require.Equal(t, "http://proxy.corp:3128", resolve("https://auth.example/oauth/token").String())
	require.Equal(t, "http://proxy.corp:3128", resolve("http://auth.example/oauth/token").String())
	require.Nil(t, resolve("https://direct.example/oauth/token"))
	require.Nil(t, resolve("https://uaa.internal.example/oauth/token"))

	direct, err := ProxyFromProperties(Properties{})
	require.NoError(t, err)
	require.Nil(t, direct)

	_, err = NewTokenClient(TokenClientConfig{Properties: Properties{"http.proxyHost": "a", "http.proxyPort": "x"}})
	require.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	token, err := secret.NewFromString("eyJhbGciOi.secret-token")
	require.NoError(t, err)
	defer token.Close()

	first := Fingerprint(token)
	require.Len(t, first, 16)
	require.Equal(t, first, Fingerprint(token))
	require.NotContains(t, first, "secret")

	other, err := secret.NewFromString("another-token")
	require.NoError(t, err)
	defer other.Close()
	require.NotEqual(t, first, Fingerprint(other))

	require.Empty(t, Fingerprint(nil))
}

func TestAuthSettingsLogValueRedacts(t *testing.T) {
	settings := authSettings(t, "https://x.example", "a", "super-secret")
	rendered := settings.LogValue().String()
	require.NotContains(t, rendered, "super-secret")
	require.Contains(t, rendered, "[redacted]")
}

func TestAuthSettingsValidate(t *testing.T) {
	valid := authSettings(t, "https://x.example", "a", "b")
	require.NoError(t, valid.Validate())

	missingURL := valid
	missingURL.TokenURL = " "
	require.Error(t, missingURL.Validate())

	missingID := valid
	missingID.ClientID = ""
	require.Error(t, missingID.Validate())

	missingSecret := valid
	missingSecret.ClientSecret = nil
	require.Error(t, missingSecret.Validate())

	wrongGrant := valid
	wrongGrant.GrantType = "authorization_code"
	require.True(t, errors.Is(wrongGrant.Validate(), ErrUnsupportedGrantType))
}
