// Package config loads configs/config.yaml (or the file named by
// TVFLEET_CONFIG), layers TVFLEET_* environment overrides on top and
// validates the result.
//
// The adb and cec sections under services each describe one isolated
// backend service with its own port. Broker passwords and the InfluxDB
// token are best supplied through the environment.
package config
