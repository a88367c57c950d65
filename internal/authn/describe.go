package authn

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/hacknlove/safeapi-server/internal/fingerprint"
)

// ErrInvalidBody is returned by Describe when a JSON request body cannot be
// parsed.
var ErrInvalidBody = errors.New("request body is not valid JSON")

// Describe builds the fingerprint descriptor for r. The body is read in full
// and replaced so later handlers can read it again. JSON bodies are kept
// byte-for-byte, other non-empty bodies are described as a string and an
// empty body as an empty object. Text that is not valid UTF-8 is rejected with
// fingerprint.ErrInvalidText.
//
// The path is the request's path and query, as received.
//
// When trustForwarded is set, the X-Forwarded-Host and X-Forwarded-Proto
// headers take precedence over the connection's own values.
func Describe(r *http.Request, trustForwarded bool) (fingerprint.RequestDescriptor, error) {
	body, err := readBody(r)
	if err != nil {
		return fingerprint.RequestDescriptor{}, err
	}

	d := fingerprint.RequestDescriptor{
		Body:     body,
		Hostname: hostname(r, trustForwarded),
		Method:   r.Method,
		Path:     r.URL.RequestURI(),
		Protocol: protocol(r, trustForwarded),
	}

	if err := d.Validate(); err != nil {
		return fingerprint.RequestDescriptor{}, err
	}

	return d, nil
}

func readBody(r *http.Request) (any, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("request body could not be read: %w", err)
	}

	r.Body = io.NopCloser(bytes.NewReader(data))

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	if !isJSON(r.Header.Get("Content-Type")) {
		return string(data), nil
	}

	if !json.Valid(data) {
		return nil, ErrInvalidBody
	}

	return json.RawMessage(data), nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func hostname(r *http.Request, trustForwarded bool) string {
	host := r.Host
	if trustForwarded {
		if forwarded := firstValue(r.Header.Get("X-Forwarded-Host")); forwarded != "" {
			host = forwarded
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
		if strings.Contains(host, ":") {
			// IPv6 literal
			host = "[" + host + "]"
		}
	}

	return host
}

func protocol(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := firstValue(r.Header.Get("X-Forwarded-Proto")); forwarded != "" {
			return strings.ToLower(forwarded)
		}
	}

	if r.TLS != nil {
		return "https"
	}

	return "http"
}

// firstValue returns the first entry of a comma separated header, as added by
// the proxy closest to the client.
func firstValue(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return strings.TrimSpace(first)
}
