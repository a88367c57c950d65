package verify

import "strings"

const insecurePrefix = "insecure "

// InsecureBypass authenticates credentials of the form "insecure <issuer>"
// as <issuer>, skipping every other check. It exists for local development
// only, and has effect only when given to a pipeline with WithInsecureBypass.
type InsecureBypass struct {
	prefix string
}

// NewInsecureBypass creates the development bypass.
func NewInsecureBypass() *InsecureBypass {
	return &InsecureBypass{prefix: insecurePrefix}
}

// Issuer returns the issuer embedded in a bypass credential. The second
// result is false when the credential is not of the bypass form.
func (b *InsecureBypass) Issuer(credential string) (string, bool) {
	return strings.CutPrefix(credential, b.prefix)
}
