// Package config provides configuration loading for the user directory server.
//
// The config package handles:
//   - Built-in defaults for every setting
//   - Overlaying an optional YAML file
//   - Loading .env files into the environment
//   - Overriding settings from environment variables
//   - Validation before the server starts
//
// Precedence, lowest first: defaults, YAML file, environment (including
// variables loaded from .env), then command-line flags applied by the
// caller.
//
// Environment Variables:
//
//   - PORT, HOST, RPC_ENDPOINT, MAX_BODY_BYTES, INIT_RATE, INIT_BURST
//   - SESSION_IDLE_TIMEOUT, SESSION_SWEEP_INTERVAL, SESSION_EVICT_ON_DISCONNECT, SESSION_GUARD
//   - STORE_DRIVER, STORE_PATH, STORE_SEED
//   - SAMPLING_PROVIDER, SAMPLING_TIMEOUT
//   - OPENROUTER_API_KEY, OPENROUTER_BASE_URL, OPENROUTER_MODEL, OPENROUTER_REASONING_EFFORT
//   - LOG_LEVEL, LOG_FORMAT
//   - NGROK_ENABLED, NGROK_AUTHTOKEN (or NGROK_AUTH_TOKEN), NGROK_DOMAIN
//
// Durations use Go syntax ("30m", "90s") in both YAML and the environment.
//
// Usage:
//
//	config.LoadDotEnv()
//	cfg, err := config.Load("configs/server.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
