// Package namespace implements the hierarchical keyspace policy from
// §3 and §4.2: the normative `titan:{tenant}:{domain}:{subdomain}:{id}`
// layout, per-module declared-prefix validation, and key composition.
package namespace

import (
	"fmt"
	"regexp"
	"strings"

	"titan/internal/errkind"
)

// Domain is one of the fixed top-level domains in the keyspace.
type Domain string

const (
	DomainSignal      Domain = "signal"
	DomainTrade       Domain = "trade"
	DomainIndicator   Domain = "indicator"
	DomainCapital     Domain = "capital"
	DomainRegistry    Domain = "registry"
	DomainHealth      Domain = "health"
	DomainConfig      Domain = "config"
	DomainPerformance Domain = "performance"
	DomainReport      Domain = "report"
	DomainControl     Domain = "control"
	DomainInfra       Domain = "infra"
	DomainMode        Domain = "mode"
	DomainClient      Domain = "client"
	DomainKyc         Domain = "kyc"
)

var validDomains = map[Domain]struct{}{
	DomainSignal: {}, DomainTrade: {}, DomainIndicator: {}, DomainCapital: {},
	DomainRegistry: {}, DomainHealth: {}, DomainConfig: {}, DomainPerformance: {},
	DomainReport: {}, DomainControl: {}, DomainInfra: {}, DomainMode: {},
	DomainClient: {}, DomainKyc: {},
}

// Compose builds a normative key: titan:{tenant}:{domain}:{subdomain}:{id}.
// subdomain and id may be empty for shorter keys (e.g. titan:{tenant}:mode).
func Compose(tenant string, domain Domain, parts ...string) string {
	segs := []string{"titan", tenant, string(domain)}
	segs = append(segs, parts...)
	return strings.Join(segs, ":")
}

// Declaration is the declared_keys entry on a Module Record: a regex
// over the full key a module is permitted to write.
type Declaration struct {
	Pattern *regexp.Regexp
	Raw     string
}

// MustDeclare compiles a prefix glob (e.g. "titan:*:signal:*") into a
// Declaration, anchored at both ends. Panics on invalid input — this is
// meant for static, startup-time declarations, not runtime data.
func MustDeclare(globPattern string) Declaration {
	re, err := compileGlob(globPattern)
	if err != nil {
		panic(fmt.Sprintf("namespace: invalid declaration %q: %v", globPattern, err))
	}
	return Declaration{Pattern: re, Raw: globPattern}
}

func compileGlob(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteString(regexp.QuoteMeta(string(r)))
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Guard validates a write against a module's declared key prefixes. It
// is used both by the Bus write path as a last-mile guard and by the
// Dependency Resolver (§4.4) to audit registered modules.
type Guard struct {
	declared []Declaration
}

// NewGuard builds a Guard from a module's declared_keys.
func NewGuard(declared ...Declaration) *Guard {
	return &Guard{declared: declared}
}

// Validate returns errkind.NamespaceViolation if key is not permitted
// by any declaration, or if the key does not parse as a well-formed
// titan:{tenant}:{domain}:... key.
func (g *Guard) Validate(key string) error {
	if err := ValidateShape(key); err != nil {
		return err
	}
	for _, d := range g.declared {
		if d.Pattern.MatchString(key) {
			return nil
		}
	}
	return errkind.New(errkind.NamespaceViolation, "namespace.Validate",
		fmt.Sprintf("key %q matches no declared prefix", key))
}

// ValidateShape checks that key has the normative
// titan:{tenant}:{domain}:... shape with a recognized domain.
func ValidateShape(key string) error {
	parts := strings.Split(key, ":")
	if len(parts) < 3 || parts[0] != "titan" {
		return errkind.New(errkind.NamespaceViolation, "namespace.ValidateShape",
			fmt.Sprintf("key %q is not titan:{tenant}:{domain}:...", key))
	}

	// Some keys are process-wide rather than tenant-scoped
	// (titan:registry:..., titan:infra:..., titan:health:...); treat
	// parts[1] as either the tenant or one of those domains.
	domainCandidate := Domain(parts[1])
	if _, ok := validDomains[domainCandidate]; ok {
		return nil
	}
	if len(parts) < 3 {
		return errkind.New(errkind.NamespaceViolation, "namespace.ValidateShape",
			fmt.Sprintf("key %q missing domain segment", key))
	}
	if _, ok := validDomains[Domain(parts[2])]; !ok {
		return errkind.New(errkind.NamespaceViolation, "namespace.ValidateShape",
			fmt.Sprintf("key %q has unrecognized domain %q", key, parts[2]))
	}
	return nil
}

// Collision reports whether two modules' declared key sets overlap,
// used by the Dependency Resolver to flag ambiguous ownership.
func Collision(a, b []Declaration) bool {
	for _, da := range a {
		for _, db := range b {
			if da.Raw == db.Raw {
				return true
			}
			// Conservative overlap check: if one pattern matches the
			// other's literal prefix (stripped of its trailing glob),
			// consider them colliding.
			if overlaps(da.Raw, db.Raw) {
				return true
			}
		}
	}
	return false
}

func overlaps(a, b string) bool {
	pa := strings.TrimSuffix(a, "*")
	pb := strings.TrimSuffix(b, "*")
	return strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa)
}
