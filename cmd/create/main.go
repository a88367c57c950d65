// Command create mints a capability token for a single request, for use when
// testing a local server:
//
//	curl -H "Authorization: $(go run ./cmd/create -method POST -url http://localhost:8080/orders -body '{"qty":1}')" ...
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hacknlove/safeapi-server/internal/fingerprint"
)

type options struct {
	jwksPath string
	keyID    string
	issuer   string
	method   string
	url      string
	body     string
	jsonBody bool
	mount    string
	validity time.Duration
}

func main() {
	opts := options{}

	flag.StringVar(&opts.jwksPath, "jwks", ".development/keys/jwks.private.json", "private JWKS containing the signing key")
	flag.StringVar(&opts.keyID, "kid", "test-key", "key ID of the signing key")
	flag.StringVar(&opts.issuer, "issuer", "", "token issuer (defaults to the key ID)")
	flag.StringVar(&opts.method, "method", "GET", "request method")
	flag.StringVar(&opts.url, "url", "http://localhost:8080/", "request URL, as seen by the server")
	flag.StringVar(&opts.body, "body", "", "request body")
	flag.BoolVar(&opts.jsonBody, "json", true, "the body is sent as application/json")
	flag.StringVar(&opts.mount, "mount", "", "mount path configured on the server")
	flag.DurationVar(&opts.validity, "validity", time.Minute, "token lifetime")
	flag.Parse()

	token, err := run(opts, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s", token)
}

func run(opts options, now time.Time) (string, error) {
	jwksBytes, err := os.ReadFile(opts.jwksPath)
	if err != nil {
		return "", fmt.Errorf("reading jwks: %w", err)
	}

	jwks := jose.JSONWebKeySet{}
	err = json.Unmarshal(jwksBytes, &jwks)
	if err != nil {
		return "", fmt.Errorf("loading jwks: %w", err)
	}

	found := jwks.Key(opts.keyID)
	if len(found) == 0 {
		return "", fmt.Errorf("key %q not found in %s", opts.keyID, opts.jwksPath)
	}

	descriptor, err := describe(opts)
	if err != nil {
		return "", err
	}

	subject, err := fingerprint.Engine{Mount: opts.mount}.Fingerprint(descriptor)
	if err != nil {
		return "", err
	}

	issuer := opts.issuer
	if issuer == "" {
		issuer = opts.keyID
	}

	return createToken(&found[0], jwt.Claims{
		Issuer:   issuer,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(opts.validity)),
	})
}

// describe produces the same descriptor the server builds for the request.
func describe(opts options) (fingerprint.RequestDescriptor, error) {
	u, err := url.Parse(opts.url)
	if err != nil {
		return fingerprint.RequestDescriptor{}, fmt.Errorf("invalid request URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fingerprint.RequestDescriptor{}, errors.New("request URL must be absolute")
	}

	host := u.Hostname()
	if strings.Contains(host, ":") {
		// IPv6 literals keep their brackets, as the server describes them
		host = "[" + host + "]"
	}

	d := fingerprint.RequestDescriptor{
		Hostname: host,
		Method:   opts.method,
		Path:     u.RequestURI(),
		Protocol: u.Scheme,
	}

	switch {
	case opts.body == "":
	case opts.jsonBody:
		if !json.Valid([]byte(opts.body)) {
			return fingerprint.RequestDescriptor{}, errors.New("body is not valid JSON")
		}
		d.Body = json.RawMessage(opts.body)
	default:
		d.Body = opts.body
	}

	if err := d.Validate(); err != nil {
		return fingerprint.RequestDescriptor{}, err
	}

	return d, nil
}

func createToken(jwk *jose.JSONWebKey, claims jwt.Claims) (string, error) {
	if jwk.Algorithm == "" {
		return "", errors.New("signing key has no algorithm (alg)")
	}

	key := jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(jwk.Algorithm),
		Key:       jwk,
	}

	signer, err := jose.NewSigner(
		key,
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", err
	}

	return jwt.Signed(signer).Claims(claims).Serialize()
}
