// Package authn authenticates HTTP requests that carry a capability token in
// their Authorization header.
package authn

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/hacknlove/safeapi-server/internal/audit"
	"github.com/hacknlove/safeapi-server/internal/fingerprint"
	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/rs/zerolog"
)

// Verifier checks a credential against the request it accompanies. It is
// satisfied by *verify.Pipeline.
type Verifier interface {
	VerifyCapabilityToken(ctx context.Context, credential string, descriptor fingerprint.RequestDescriptor) (string, error)
}

// Identity is stored in the request context once a request is authenticated.
type Identity struct {
	Issuer string
}

type descriptorKey struct{}

type options struct {
	trustForwarded bool
}

type Option func(*options)

// WithTrustForwardedHeaders describes requests using the X-Forwarded-Host and
// X-Forwarded-Proto headers.
func WithTrustForwardedHeaders(trust bool) Option {
	return func(o *options) {
		o.trustForwarded = trust
	}
}

// Middleware returns HTTP middleware that verifies the capability token in the
// Authorization header against the request. The issuer of an accepted token is
// set on the request context and can be retrieved with IssuerFromContext.
// Rejected requests receive a JSON error response and are not passed on.
//
// A request without a credential is rejected with AuthorizationRequired. A
// request with a credential whose body cannot be described is rejected with
// 400, or 413 when the body is over the size limit.
func Middleware(verifier Verifier, opts ...Option) func(http.Handler) http.Handler {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	mw := jwtmiddleware.New(validator(verifier),
		jwtmiddleware.WithTokenExtractor(AuthorizationHeaderExtractor),
		jwtmiddleware.WithErrorHandler(ErrorHandler()),
		// a token is bound to its method, OPTIONS included
		jwtmiddleware.WithValidateOnOptions(true),
	)

	return func(next http.Handler) http.Handler {
		checked := mw.CheckJWT(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// without a credential the request is rejected as unauthorized
			// before its body is read
			if credential, _ := AuthorizationHeaderExtractor(r); credential == "" {
				checked.ServeHTTP(w, r)
				return
			}

			descriptor, err := Describe(r, o.trustForwarded)
			if err != nil {
				writeDescribeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), descriptorKey{}, descriptor)
			checked.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthorizationHeaderExtractor returns the Authorization header value. The
// capability token is normally sent bare; a "Bearer " scheme is accepted and
// removed.
func AuthorizationHeaderExtractor(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))

	const scheme = "bearer "
	if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
		header = strings.TrimSpace(header[len(scheme):])
	}

	return header, nil
}

func validator(verifier Verifier) jwtmiddleware.ValidateToken {
	return func(ctx context.Context, credential string) (any, error) {
		descriptor, ok := ctx.Value(descriptorKey{}).(fingerprint.RequestDescriptor)
		if !ok {
			return nil, errors.New("request descriptor missing from context")
		}

		issuer, err := verifier.VerifyCapabilityToken(ctx, credential, descriptor)
		if err != nil {
			return nil, err
		}

		entry := audit.Log(ctx)
		entry.Authorized = true
		entry.AuthIssuer = issuer

		return &Identity{Issuer: issuer}, nil
	}
}

// ErrorHandler writes the JSON rejection for a failed authentication and
// records the outcome in the audit log.
func ErrorHandler() jwtmiddleware.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		var authErr *verify.AuthError

		if errors.Is(err, jwtmiddleware.ErrJWTMissing) {
			authErr = &verify.AuthError{Kind: verify.KindAuthorizationRequired}
		} else {
			authErr = verify.AsAuthError(err)
		}

		entry := audit.Log(r.Context())
		entry.Authorized = false
		entry.AuthError = string(authErr.Kind)
		entry.AuthErrorDetail = authErr.Detail

		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("request authentication failed")

		WriteAuthError(w, authErr)
	}
}

func writeDescribeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}

	audit.Log(r.Context()).Error = err.Error()

	WriteError(w, status, ErrorResponse{Error: http.StatusText(status)})
}

// IssuerFromContext returns the issuer of the authenticated request, as set by
// the middleware.
func IssuerFromContext(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(jwtmiddleware.ContextKey{}).(*Identity)
	if !ok || identity == nil {
		return "", false
	}

	return identity.Issuer, true
}

// RequireIssuerFromContext returns the issuer of the authenticated request,
// panicking if the middleware has not run. Use only in handlers behind
// Middleware.
func RequireIssuerFromContext(ctx context.Context) string {
	issuer, ok := IssuerFromContext(ctx)
	if !ok {
		panic("authenticated issuer not found in context")
	}

	return issuer
}

// ContextWithIssuer returns a context carrying issuer as the authenticated
// identity, as the middleware does for an accepted request.
func ContextWithIssuer(ctx context.Context, issuer string) context.Context {
	return context.WithValue(ctx, jwtmiddleware.ContextKey{}, &Identity{Issuer: issuer})
}
