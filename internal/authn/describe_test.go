package authn_test

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hacknlove/safeapi-server/internal/authn"
	"github.com/hacknlove/safeapi-server/internal/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://api.example.com:8080/api/v1/algo?a=1&b=2", strings.NewReader(`{"b":1,"a":"x"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	d, err := authn.Describe(req, false)
	require.NoError(t, err)

	assert.Equal(t, fingerprint.RequestDescriptor{
		Body:     json.RawMessage(`{"b":1,"a":"x"}`),
		Hostname: "api.example.com",
		Method:   http.MethodPost,
		Path:     "/api/v1/algo?a=1&b=2",
		Protocol: "http",
	}, d)

	// the body remains readable
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":"x"}`, string(body))
}

func TestDescribeBodies(t *testing.T) {
	cases := []struct {
		name        string
		body        io.Reader
		contentType string
		expected    any
	}{
		{name: "no body", body: nil, expected: nil},
		{name: "empty body", body: strings.NewReader(""), contentType: "application/json", expected: nil},
		{name: "whitespace body", body: strings.NewReader("  \n"), contentType: "application/json", expected: nil},
		{name: "json", body: strings.NewReader(`[1,2]`), contentType: "application/json", expected: json.RawMessage(`[1,2]`)},
		{name: "json suffix", body: strings.NewReader(`{"a":1}`), contentType: "application/merge-patch+json", expected: json.RawMessage(`{"a":1}`)},
		{name: "text", body: strings.NewReader("hello"), contentType: "text/plain", expected: "hello"},
		{name: "no content type", body: strings.NewReader(`{"a":1}`), expected: `{"a":1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/thing", tc.body)
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}

			d, err := authn.Describe(req, false)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, d.Body)
		})
	}
}

func TestDescribeInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/thing", strings.NewReader(`{"a":`))
	req.Header.Set("Content-Type", "application/json")

	_, err := authn.Describe(req, false)
	assert.ErrorIs(t, err, authn.ErrInvalidBody)
}

func TestDescribeInvalidUTF8(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		contentType string
		forwarded   string
	}{
		{name: "text body", body: "pay \xff", contentType: "text/plain"},
		{name: "other text body", body: "pay \xfe", contentType: "text/plain"},
		{name: "json body", body: "\"pay \xff\"", contentType: "application/json"},
		{name: "forwarded host", body: "pay", contentType: "text/plain", forwarded: "api\xff.example.com"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", tc.contentType)
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-Host", tc.forwarded)
			}

			_, err := authn.Describe(req, true)
			assert.ErrorIs(t, err, fingerprint.ErrInvalidText)
		})
	}
}

func TestDescribeBodyTooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/thing", strings.NewReader(strings.Repeat("a", 64)))
	req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 16)

	_, err := authn.Describe(req, false)

	var tooLarge *http.MaxBytesError
	assert.True(t, errors.As(err, &tooLarge))
}

func TestDescribeHostAndProtocol(t *testing.T) {
	cases := []struct {
		name             string
		target           string
		tls              bool
		headers          map[string]string
		trust            bool
		expectedHostname string
		expectedProtocol string
	}{
		{
			name:             "plain",
			target:           "http://api.example.com/x",
			expectedHostname: "api.example.com",
			expectedProtocol: "http",
		},
		{
			name:             "tls",
			target:           "https://api.example.com:8443/x",
			tls:              true,
			expectedHostname: "api.example.com",
			expectedProtocol: "https",
		},
		{
			name:             "ipv6",
			target:           "http://[::1]:8080/x",
			expectedHostname: "[::1]",
			expectedProtocol: "http",
		},
		{
			name:             "forwarded headers ignored",
			target:           "http://internal:8080/x",
			headers:          map[string]string{"X-Forwarded-Host": "api.example.com", "X-Forwarded-Proto": "https"},
			expectedHostname: "internal",
			expectedProtocol: "http",
		},
		{
			name:             "forwarded headers trusted",
			target:           "http://internal:8080/x",
			headers:          map[string]string{"X-Forwarded-Host": "api.example.com:443, proxy.local", "X-Forwarded-Proto": "HTTPS, http"},
			trust:            true,
			expectedHostname: "api.example.com",
			expectedProtocol: "https",
		},
		{
			name:             "trusted without headers",
			target:           "http://internal:8080/x",
			trust:            true,
			expectedHostname: "internal",
			expectedProtocol: "http",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			} else {
				req.TLS = nil
			}
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			d, err := authn.Describe(req, tc.trust)
			require.NoError(t, err)

			assert.Equal(t, tc.expectedHostname, d.Hostname)
			assert.Equal(t, tc.expectedProtocol, d.Protocol)
			assert.Equal(t, "/x", d.Path)
		})
	}
}

func TestAuthorizationHeaderExtractor(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"abc.def.ghi":          "abc.def.ghi",
		"Bearer abc.def.ghi":   "abc.def.ghi",
		"bearer abc.def.ghi":   "abc.def.ghi",
		"  abc.def.ghi  ":      "abc.def.ghi",
		"insecure billing":     "insecure billing",
		"Bearer insecure name": "insecure name",
	}

	for header, expected := range cases {
		t.Run(header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}

			token, err := authn.AuthorizationHeaderExtractor(req)
			require.NoError(t, err)
			assert.Equal(t, expected, token)
		})
	}
}
