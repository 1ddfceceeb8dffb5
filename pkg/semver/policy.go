// Package semver checks the jsonrpc member of requests against an optional version constraint.
package semver

import (
	"fmt"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:policy"

// VersionPolicy accepts jsonrpc values that satisfy a constraint such as "=2.0" or "~2.0".
// A nil policy accepts every value, which is the default permissive behavior.
type VersionPolicy struct {
	raw        string
	constraint *masterminds.Constraints
}

// NewVersionPolicy parses constraint. An empty constraint returns a nil policy.
func NewVersionPolicy(constraint string) (*VersionPolicy, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return nil, nil
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid constraint %q: %w", logPrefix, constraint, err)
	}
	return &VersionPolicy{raw: constraint, constraint: c}, nil
}

// Allows reports whether version satisfies the policy.
func (p *VersionPolicy) Allows(version string) bool {
	if p == nil {
		return true
	}
	v, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	return p.constraint.Check(v)
}

func (p *VersionPolicy) String() string {
	if p == nil {
		return "any"
	}
	return p.raw
}
