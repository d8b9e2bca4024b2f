// Package config parses environment variables into tagged structs. The
// checkout service keeps all of its knobs in the environment so a deployment
// is fully described by its env block.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load populates cfg from the process environment using `env` struct tags.
// Required variables without a value fail the load, so a misconfigured
// deployment dies at startup instead of at the first request.
//
// Example:
//
//	type Config struct {
//	    HTTPPort    int      `env:"CHECKOUT_HTTP_PORT" envDefault:"8010"`
//	    Credentials []string `env:"CHECKOUT_API_CREDENTIALS,required" envSeparator:","`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}
