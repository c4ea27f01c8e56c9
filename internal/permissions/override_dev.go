//go:build !production

package permissions

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type overrideEnv struct {
	Bits string `envconfig:"PERMISSIONS_DEV_OVERRIDE"`
}

type staticOverride Set

func (o staticOverride) bits() (Set, bool) { return Set(o), true }

// StaticOverride returns an Override that grants bits to every user.
func StaticOverride(bits Set) Override { return staticOverride(bits) }

// OverrideFromEnv reads PERMISSIONS_DEV_OVERRIDE. It returns nil when the
// variable is unset or when production is true.
func OverrideFromEnv(production bool) (Override, error) {
	if production {
		return nil, nil
	}
	var env overrideEnv
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("permissions: read override env: %w", err)
	}
	if strings.TrimSpace(env.Bits) == "" {
		return nil, nil
	}
	bits, err := ParseBits(env.Bits)
	if err != nil {
		return nil, fmt.Errorf("permissions: parse PERMISSIONS_DEV_OVERRIDE: %w", err)
	}
	return staticOverride(bits), nil
}
