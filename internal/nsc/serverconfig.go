package nsc

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/natskeeper/internal/common"
)

// Resolver describes the broker's full account resolver block.
type Resolver struct {
	Dir         string
	AllowDelete bool
	Interval    time.Duration
	Timeout     time.Duration
}

// DefaultResolver returns the resolver settings used when none are configured.
func DefaultResolver() Resolver {
	return Resolver{
		Dir:         "/data/jwt",
		AllowDelete: true,
		Interval:    2 * time.Minute,
		Timeout:     1900 * time.Millisecond,
	}
}

// GenerateServerConfig renders the broker configuration fragment: operator
// token, system account identifier, resolver block and a preload entry for
// the system account token. The operator's declared system account must be
// the system account token's own subject.
func (d *Driver) GenerateServerConfig(resolver Resolver) (string, error) {
	operatorJWT, err := d.ReadToken(KindOperator, "", "")
	if err != nil {
		return "", err
	}
	operator, err := DecodeToken(operatorJWT)
	if err != nil {
		return "", err
	}

	systemAccountJWT, err := d.ReadToken(KindAccount, common.SystemAccountName, "")
	if err != nil {
		return "", err
	}
	systemAccount, err := DecodeToken(systemAccountJWT)
	if err != nil {
		return "", err
	}

	systemAccountKey := systemAccount.Subject
	if systemAccountKey == "" {
		return "", fmt.Errorf("%w: failed to find system account public key", common.ErrorConsistency)
	}
	if operator.Nats.SystemAccount != systemAccountKey {
		return "", fmt.Errorf("%w: operator's system account %q does not match the system account public key %q",
			common.ErrorConsistency, operator.Nats.SystemAccount, systemAccountKey)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "operator: %s\n\n", operatorJWT)
	fmt.Fprintf(&b, "system_account: %s\n\n", systemAccountKey)
	b.WriteString("resolver {\n")
	b.WriteString("    type: full\n")
	fmt.Fprintf(&b, "    dir: '%s'\n", resolver.Dir)
	fmt.Fprintf(&b, "    allow_delete: %t\n", resolver.AllowDelete)
	fmt.Fprintf(&b, "    interval: %q\n", shortDuration(resolver.Interval))
	fmt.Fprintf(&b, "    timeout: %q\n", shortDuration(resolver.Timeout))
	b.WriteString("}\n\n")
	b.WriteString("resolver_preload: {\n")
	fmt.Fprintf(&b, "    %s: %s,\n", systemAccountKey, systemAccountJWT)
	b.WriteString("}\n")
	return b.String(), nil
}

// shortDuration prints 2m instead of 2m0s.
func shortDuration(d time.Duration) string {
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
