// Package config loads the subsystem configuration from defaults, an
// optional YAML file and FORGECTX_-prefixed environment variables, in
// that precedence order.
package config
