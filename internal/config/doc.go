// Package config loads Relay configuration from a JSON file with RELAY_*
// environment overlays and optional .env support.
package config
