// Package config provides loading and environment overlay for the RTPS
// participant configuration. It exposes a Default() baseline that file and
// RTPS_* environment values are layered over.
//
// Example:
//
//	cfg, err := config.Load("/etc/rtps.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
