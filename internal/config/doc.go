// Package config provides loading and environment overlay for marconi
// server configuration. It exposes a Default() baseline, YAML file loading
// and a MARCONI_* environment overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/marconi.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
