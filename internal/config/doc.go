// Package config resolves service settings from viper (flags, config file
// and TTSCACHE_* variables) and engine settings from the environment.
package config
