package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load fills cfg, a pointer to a struct with `env` tags, from the process
// environment. Every bad or missing variable is reported, not just the first.
func Load(cfg any) error {
	err := env.Parse(cfg)
	if err == nil {
		return nil
	}
	var agg env.AggregateError
	if errors.As(err, &agg) && len(agg.Errors) > 1 {
		err = errors.Join(agg.Errors...)
	}
	return fmt.Errorf("parse config: %w", err)
}
