// Package config loads the node agent configuration: built-in defaults,
// then an optional YAML file, then environment variables. Command-line
// flags are applied on top by the xnode command.
package config
