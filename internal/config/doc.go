// Package config defines the static deployment settings of the update agent
// and provides helpers to load, validate and save them in YAML format.
//
// Validate applies defaults in place, so a loaded Config is always complete.
package config
