package verify

import (
	"errors"
	"fmt"
)

// Kind classifies why a verification failed. The set is closed: every failed
// verification terminates with exactly one of these.
type Kind string

const (
	KindAuthorizationRequired    Kind = "AuthorizationRequired"
	KindInvalidToken             Kind = "InvalidToken"
	KindAlgorithmNotAllowed      Kind = "AlgorithmNotAllowed"
	KindExpiredToken             Kind = "ExpiredToken"
	KindTimeError                Kind = "TimeError"
	KindInvalidSignature         Kind = "InvalidSignature"
	KindKeyNotFound              Kind = "KeyNotFound"
	KindKeyResolverNotConfigured Kind = "KeyResolverNotConfigured"
	KindInternal                 Kind = "Internal"
)

// Details attached to KindInvalidSignature.
const (
	DetailHash  = "hash"
	DetailToken = "token"
)

// AuthError is the result of a failed verification.
type AuthError struct {
	Kind   Kind
	Detail string
	Err    error
}

// Sentinels for use with errors.Is. A sentinel without a Detail matches any
// error of the same Kind.
var (
	ErrAuthorizationRequired    = &AuthError{Kind: KindAuthorizationRequired}
	ErrInvalidToken             = &AuthError{Kind: KindInvalidToken}
	ErrAlgorithmNotAllowed      = &AuthError{Kind: KindAlgorithmNotAllowed}
	ErrExpiredToken             = &AuthError{Kind: KindExpiredToken}
	ErrTimeError                = &AuthError{Kind: KindTimeError}
	ErrInvalidSignature         = &AuthError{Kind: KindInvalidSignature}
	ErrHashMismatch             = &AuthError{Kind: KindInvalidSignature, Detail: DetailHash}
	ErrBadSignature             = &AuthError{Kind: KindInvalidSignature, Detail: DetailToken}
	ErrKeyNotFound              = &AuthError{Kind: KindKeyNotFound}
	ErrKeyResolverNotConfigured = &AuthError{Kind: KindKeyResolverNotConfigured}
	ErrInternal                 = &AuthError{Kind: KindInternal}
)

func newError(kind Kind, detail string, err error) *AuthError {
	return &AuthError{Kind: kind, Detail: detail, Err: err}
}

func (e *AuthError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches another AuthError of the same Kind. When the target carries a
// Detail, it must match as well.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}

	return t.Kind == e.Kind && (t.Detail == "" || t.Detail == e.Detail)
}

// Fatal reports whether the error indicates a fault in the verifier or its
// configuration rather than a problem with the presented credential.
func (e *AuthError) Fatal() bool {
	return e.Kind == KindKeyResolverNotConfigured || e.Kind == KindInternal
}

// AsAuthError classifies any error into the taxonomy. Errors that are not
// already an AuthError are reported as internal faults.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	return newError(KindInternal, "", err)
}
