package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv populates target from its env-tagged fields. Every variable in
// this project carries the STAGEGATE_ prefix spelled out in the tag.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
