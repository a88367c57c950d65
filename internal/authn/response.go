package authn

import (
	"encoding/json"
	"net/http"

	"github.com/hacknlove/safeapi-server/internal/verify"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the body written when a request is rejected.
type ErrorResponse struct {
	Error string `json:"error"`
	Info  string `json:"info,omitempty"`
}

// StatusFor returns the HTTP status for a verification failure: faults in the
// verifier are server errors, everything else is unauthorized.
func StatusFor(err *verify.AuthError) int {
	if err.Fatal() {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

// WriteAuthError writes the JSON rejection for err. The cause is never
// included in the response.
func WriteAuthError(w http.ResponseWriter, err *verify.AuthError) {
	WriteError(w, StatusFor(err), ErrorResponse{Error: string(err.Kind), Info: err.Detail})
}

func WriteError(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		// record failure to log: trying to respond to the client at this
		// point will likely fail
		log.Info().Err(err).Msg("failed to write error response")
	}
}
