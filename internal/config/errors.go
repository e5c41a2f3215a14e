package config

import "errors"

var (
	// ErrConfigNotFound is returned when a config file does not exist.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid is returned when a config file fails to parse.
	ErrConfigInvalid = errors.New("config file invalid")
)
