// Package verify authenticates capability tokens: signed tokens that authorize
// exactly one request. A token is accepted only when its algorithm is allowed,
// it is inside its validity period, its subject is the fingerprint of the
// request it accompanies, and its signature verifies with the key of the
// issuer it names. The issuer is the only output of a successful verification.
package verify

import (
	"context"
	"crypto"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/hacknlove/safeapi-server/internal/fingerprint"
	"github.com/hacknlove/safeapi-server/internal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hacknlove/safeapi-server/internal/verify"

// State is a step of a verification. States are passed strictly in order.
type State int

const (
	StateStart State = iota
	StateDecoded
	StateAlgorithmChecked
	StateTimesChecked
	StateFingerprinted
	StateSubjectBound
	StateKeyResolved
	StateSignatureVerified
	StateAuthenticated
)

var stateNames = [...]string{
	StateStart:             "Start",
	StateDecoded:           "Decoded",
	StateAlgorithmChecked:  "AlgorithmChecked",
	StateTimesChecked:      "TimesChecked",
	StateFingerprinted:     "Fingerprinted",
	StateSubjectBound:      "SubjectBound",
	StateKeyResolved:       "KeyResolved",
	StateSignatureVerified: "SignatureVerified",
	StateAuthenticated:     "Authenticated",
}

func (s State) String() string {
	if s < StateStart || s > StateAuthenticated {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Config is fixed when the pipeline is created and never changes afterwards.
type Config struct {
	// Mount is prepended to every request path before fingerprinting.
	Mount string
	// Algorithms is the allow-list of signature algorithms. The zero value
	// selects DefaultAlgorithms.
	Algorithms Algorithms
	// Resolver supplies issuer keys. A nil resolver is a configuration fault
	// reported on every verification that reaches key resolution.
	Resolver KeyResolver
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithInsecureBypass enables the development bypass.
func WithInsecureBypass(b *InsecureBypass) Option {
	return func(p *Pipeline) {
		p.bypass = b
	}
}

// WithClock replaces the clock used for time validation.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithSignatureEngine replaces the engine that checks token signatures.
func WithSignatureEngine(e token.SignatureEngine) Option {
	return func(p *Pipeline) {
		p.signatures = e
	}
}

// stage moves a verification out of one state. It returns the state reached.
type stage struct {
	name string
	run  func(ctx context.Context, v *verification) (State, error)
}

// verification is the state of one call. It is never shared.
type verification struct {
	credential  string
	descriptor  fingerprint.RequestDescriptor
	now         time.Time
	decoded     *token.Decoded
	fingerprint string
	key         crypto.PublicKey
	issuer      string
}

// Pipeline verifies capability tokens. It is safe for concurrent use.
type Pipeline struct {
	engine     fingerprint.Engine
	algorithms Algorithms
	resolver   KeyResolver
	bypass     *InsecureBypass
	signatures token.SignatureEngine
	now        func() time.Time

	stages [StateAuthenticated]stage

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// New creates a pipeline from the configuration.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	algorithms := cfg.Algorithms
	if len(algorithms.names) == 0 {
		algorithms = DefaultAlgorithms()
	}

	outcomes, err := otel.Meter(instrumentationName).Int64Counter(
		"capability_token.verifications",
		metric.WithDescription("Capability token verifications by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("verification counter setup failed: %w", err)
	}

	p := &Pipeline{
		engine:     fingerprint.Engine{Mount: cfg.Mount},
		algorithms: algorithms,
		resolver:   cfg.Resolver,
		signatures: token.JWTEngine{},
		now:        time.Now,
		tracer:     otel.Tracer(instrumentationName),
		outcomes:   outcomes,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.stages = [StateAuthenticated]stage{
		StateStart:             {"decode", p.decode},
		StateDecoded:           {"check algorithm", p.checkAlgorithm},
		StateAlgorithmChecked:  {"check times", p.checkTimes},
		StateTimesChecked:      {"fingerprint request", p.fingerprintRequest},
		StateFingerprinted:     {"check subject", p.checkSubject},
		StateSubjectBound:      {"resolve key", p.resolveKey},
		StateKeyResolved:       {"verify signature", p.verifySignature},
		StateSignatureVerified: {"authenticate", p.authenticate},
	}

	if p.resolver == nil {
		log.Error().Msg("no key resolver configured: capability tokens cannot be verified")
	}

	if p.bypass != nil {
		log.Warn().Msg("insecure bypass enabled: credentials of the form 'insecure <issuer>' are trusted without verification")
	}

	return p, nil
}

// VerifyCapabilityToken checks that credential is a valid capability token for
// the described request, returning the token's issuer. The error is always an
// *AuthError.
func (p *Pipeline) VerifyCapabilityToken(ctx context.Context, credential string, descriptor fingerprint.RequestDescriptor) (string, error) {
	ctx, span := p.tracer.Start(ctx, "verify capability token")
	defer span.End()

	v := &verification{
		credential: credential,
		descriptor: descriptor,
		// sampled once: every time check in this verification uses the same instant
		now: p.now(),
	}

	issuer, err := p.run(ctx, v)

	outcome := "authenticated"
	if err != nil {
		authErr := AsAuthError(err)
		outcome = string(authErr.Kind)

		span.SetStatus(codes.Error, authErr.Error())
		logRejection(ctx, authErr)
		err = authErr
	}

	p.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	return issuer, err
}

func (p *Pipeline) run(ctx context.Context, v *verification) (string, error) {
	span := trace.SpanFromContext(ctx)

	for state := StateStart; state != StateAuthenticated; {
		s := p.stages[state]

		next, err := s.run(ctx, v)
		if err != nil {
			return "", err
		}

		if next <= state || next > StateAuthenticated {
			return "", newError(KindInternal, "pipeline", fmt.Errorf("stage %q moved from %s to %s", s.name, state, next))
		}

		span.AddEvent(s.name, trace.WithAttributes(attribute.String("state", next.String())))
		state = next
	}

	return v.issuer, nil
}

func (p *Pipeline) decode(_ context.Context, v *verification) (State, error) {
	if v.credential == "" {
		return StateStart, newError(KindAuthorizationRequired, "", nil)
	}

	if p.bypass != nil {
		if issuer, ok := p.bypass.Issuer(v.credential); ok {
			v.credential = ""
			if issuer == "" {
				return StateStart, newError(KindInvalidToken, "", errors.New("bypass credential names no issuer"))
			}

			v.issuer = issuer
			return StateAuthenticated, nil
		}
	}

	decoded, err := token.Decode(v.credential)
	v.credential = ""
	if err != nil {
		return StateStart, newError(KindInvalidToken, "", err)
	}

	v.decoded = decoded

	return StateDecoded, nil
}

func (p *Pipeline) checkAlgorithm(_ context.Context, v *verification) (State, error) {
	if err := CheckAlgorithm(v.decoded.Header, p.algorithms); err != nil {
		return StateDecoded, err
	}

	return StateAlgorithmChecked, nil
}

func (p *Pipeline) checkTimes(_ context.Context, v *verification) (State, error) {
	if err := CheckTimes(v.decoded.Claims, v.now); err != nil {
		return StateAlgorithmChecked, err
	}

	return StateTimesChecked, nil
}

func (p *Pipeline) fingerprintRequest(_ context.Context, v *verification) (State, error) {
	fp, err := p.engine.Fingerprint(v.descriptor)
	if err != nil {
		return StateTimesChecked, newError(KindInternal, "fingerprint", err)
	}

	v.fingerprint = fp

	return StateFingerprinted, nil
}

func (p *Pipeline) checkSubject(_ context.Context, v *verification) (State, error) {
	if subtle.ConstantTimeCompare([]byte(v.fingerprint), []byte(v.decoded.Claims.Subject)) != 1 {
		return StateFingerprinted, newError(KindInvalidSignature, DetailHash, nil)
	}

	return StateSubjectBound, nil
}

func (p *Pipeline) resolveKey(ctx context.Context, v *verification) (State, error) {
	key, err := resolveKey(ctx, p.resolver, v.decoded.Claims.Issuer)
	if err != nil {
		return StateSubjectBound, err
	}

	v.key = key

	return StateKeyResolved, nil
}

func (p *Pipeline) verifySignature(_ context.Context, v *verification) (State, error) {
	if err := token.VerifySignature(p.signatures, v.decoded, v.key); err != nil {
		return StateKeyResolved, newError(KindInvalidSignature, DetailToken, err)
	}

	return StateSignatureVerified, nil
}

func (p *Pipeline) authenticate(_ context.Context, v *verification) (State, error) {
	v.issuer = v.decoded.Claims.Issuer
	v.decoded = nil
	v.key = nil

	return StateAuthenticated, nil
}

func logRejection(ctx context.Context, err *AuthError) {
	logger := zerolog.Ctx(ctx)

	ev := logger.Debug()
	if err.Fatal() {
		ev = logger.Error()
	}

	ev.Str("kind", string(err.Kind)).
		Str("detail", err.Detail).
		AnErr("cause", err.Err).
		Msg("capability token rejected")
}
