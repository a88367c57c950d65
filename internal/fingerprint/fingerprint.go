// Package fingerprint binds a capability token to the request it was minted
// for. The fingerprint is carried in the token's "sub" claim.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidText is returned for descriptors holding text that is not valid
// UTF-8. Such text cannot be serialized without loss, so two different
// requests could otherwise share a fingerprint.
var ErrInvalidText = errors.New("request text is not valid UTF-8")

// RequestDescriptor is the normalized description of a request. The Body is
// serialized as-is: a json.RawMessage is embedded verbatim (so key order is
// significant), any other value is marshalled with encoding/json. A nil Body is
// treated as an empty object.
type RequestDescriptor struct {
	Body     any
	Hostname string
	Method   string
	Path     string
	Protocol string
}

// hashedRequest fixes the field order of the serialized form.
type hashedRequest struct {
	Body        any    `json:"body"`
	Hostname    string `json:"hostname"`
	Method      string `json:"method"`
	OriginalURL string `json:"originalUrl"`
	Protocol    string `json:"protocol"`
}

var emptyBody = json.RawMessage(`{}`)

// Validate reports whether the descriptor can be serialized losslessly. String
// and raw JSON bodies are checked; other body values are marshalled by
// encoding/json as they are.
func (d RequestDescriptor) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"hostname", d.Hostname},
		{"method", d.Method},
		{"path", d.Path},
		{"protocol", d.Protocol},
	}

	for _, f := range fields {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("%w: %s", ErrInvalidText, f.name)
		}
	}

	valid := true
	switch body := d.Body.(type) {
	case string:
		valid = utf8.ValidString(body)
	case json.RawMessage:
		valid = utf8.Valid(body)
	}
	if !valid {
		return fmt.Errorf("%w: body", ErrInvalidText)
	}

	return nil
}

// Engine computes request fingerprints. Mount is prepended to every request
// path, allowing the service to be mounted below a prefix that is stripped
// before the request arrives.
type Engine struct {
	Mount string
}

// Fingerprint returns the base64 encoded SHA-256 digest of the serialized
// descriptor. The same descriptor always yields the same fingerprint.
func (e Engine) Fingerprint(d RequestDescriptor) (string, error) {
	serialized, err := e.Serialize(d)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(serialized)

	return base64.StdEncoding.EncodeToString(digest[:]), nil
}

// Serialize returns the exact bytes that are hashed for the descriptor.
func (e Engine) Serialize(d RequestDescriptor) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	body := d.Body
	if body == nil {
		body = emptyBody
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// the fingerprint must match what a JavaScript client produces with
	// JSON.stringify, which does not escape HTML characters
	enc.SetEscapeHTML(false)

	err := enc.Encode(hashedRequest{
		Body:        body,
		Hostname:    d.Hostname,
		Method:      d.Method,
		OriginalURL: e.Mount + d.Path,
		Protocol:    d.Protocol,
	})
	if err != nil {
		return nil, fmt.Errorf("request serialization failed: %w", err)
	}

	// Encode terminates the value with a newline
	return unescapeSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeSeparators writes U+2028 and U+2029 literally. encoding/json always
// escapes them inside strings, JSON.stringify never does.
func unescapeSeparators(src []byte) []byte {
	if !bytes.Contains(src, []byte(`\u202`)) {
		return src
	}

	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		if src[i] != '\\' || i+1 == len(src) {
			dst = append(dst, src[i])
			continue
		}

		// src[i] starts an escape sequence
		if esc := src[i:min(i+6, len(src))]; bytes.Equal(esc, []byte(`\u2028`)) || bytes.Equal(esc, []byte(`\u2029`)) {
			dst = utf8.AppendRune(dst, rune(0x2028+int(esc[5]-'8')))
			i += 5
			continue
		}

		dst = append(dst, src[i], src[i+1])
		i++
	}

	return dst
}
