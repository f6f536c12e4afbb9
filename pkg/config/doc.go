// Package config loads process settings from the environment and the
// per-network deployments file.
package config
