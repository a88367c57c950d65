package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/hacknlove/safeapi-server/internal/audit"
	"github.com/hacknlove/safeapi-server/internal/authn"
	"github.com/hacknlove/safeapi-server/internal/config"
	"github.com/hacknlove/safeapi-server/internal/fingerprint"
	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// verifyRequest is the body of POST /verify: a token and the request it is
// claimed to authorize.
type verifyRequest struct {
	Token   string `json:"token"`
	Request struct {
		Body     json.RawMessage `json:"body"`
		Hostname string          `json:"hostname"`
		Method   string          `json:"method"`
		Path     string          `json:"path"`
		Protocol string          `json:"protocol"`
	} `json:"request"`
}

type issuerResponse struct {
	Issuer string `json:"issuer"`
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// handlePostVerify verifies a token against a request described in the body,
// for callers that cannot route the request itself through this service.
func handlePostVerify(verifier authn.Verifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ensure that the request body is fully read prior to returning. This
		// avoids issues with blocked connections and connection reuse.
		defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

		entry := audit.Log(r.Context())

		var req verifyRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			entry.Error = fmt.Sprintf("verify request could not be read: %v", err)
			status := http.StatusBadRequest

			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}

			authn.WriteError(w, status, authn.ErrorResponse{Error: http.StatusText(status)})
			return
		}

		descriptor := fingerprint.RequestDescriptor{
			Hostname: req.Request.Hostname,
			Method:   req.Request.Method,
			Path:     req.Request.Path,
			Protocol: req.Request.Protocol,
		}
		// an omitted body is left nil so it is described as an empty object
		if len(req.Request.Body) > 0 {
			descriptor.Body = req.Request.Body
		}

		if err := descriptor.Validate(); err != nil {
			entry.Error = fmt.Sprintf("verify request could not be described: %v", err)
			authn.WriteError(w, http.StatusBadRequest, authn.ErrorResponse{Error: http.StatusText(http.StatusBadRequest)})
			return
		}

		issuer, err := verifier.VerifyCapabilityToken(r.Context(), req.Token, descriptor)
		if err != nil {
			authErr := verify.AsAuthError(err)
			entry.AuthError = string(authErr.Kind)
			entry.AuthErrorDetail = authErr.Detail

			authn.WriteAuthError(w, authErr)
			return
		}

		entry.Authorized = true
		entry.AuthIssuer = issuer

		writeJSON(r, w, issuerResponse{Issuer: issuer})
	})
}

// handleProtected serves authenticated requests. With an upstream configured
// the request is forwarded there with the issuer in a header; otherwise the
// issuer is returned to the caller.
func handleProtected(cfg config.ProxyConfig) (http.Handler, error) {
	if cfg.UpstreamURL == "" {
		return handleIssuer(), nil
	}

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host are required", cfg.UpstreamURL)
	}

	issuerHeader := http.CanonicalHeaderKey(cfg.IssuerHeader)

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()

			// the token is spent: the upstream receives the verified issuer
			// instead, never a value supplied by the client
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Set(issuerHeader, authn.RequireIssuerFromContext(pr.In.Context()))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("upstream", upstream.Redacted()).Msg("upstream request failed")
			audit.Log(r.Context()).Error = fmt.Sprintf("upstream failure: %v", err)

			authn.WriteError(w, http.StatusBadGateway, authn.ErrorResponse{Error: http.StatusText(http.StatusBadGateway)})
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		audit.Log(r.Context()).Upstream = upstream.Redacted()
		proxy.ServeHTTP(w, r)
	}), nil
}

func handleIssuer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// issuer must be present from the middleware
		issuer := authn.RequireIssuerFromContext(r.Context())

		writeJSON(r, w, issuerResponse{Issuer: issuer})
	})
}

// maxRequestSize limits the size of the request body to the given number of
// bytes.
func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(r *http.Request, w http.ResponseWriter, body any) {
	marshalledResponse, err := json.Marshal(body)
	if err != nil {
		audit.Log(r.Context()).Error = fmt.Sprintf("response marshalling failed: %v", err)
		requestError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(marshalledResponse)
	if err != nil {
		// record failure to log: trying to respond to the client at this
		// point will likely fail
		log.Info().Msgf("failed to write response: %v\n", err)
		return
	}
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}
