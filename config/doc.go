// Package config loads SGAFlow configuration.
//
// Values come from defaults, an optional YAML file and environment
// variables prefixed with SGAFLOW_. The inference credential is also
// accepted from API_KEY or GEMINI_API_KEY. Validate rejects a config
// without a credential so the process fails at startup.
package config
