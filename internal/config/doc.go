// Package config handles configuration loading, parsing, and validation
// from various sources (environment variables, files). It provides type-safe
// access to the broker, status store, server and supervisor settings while
// keeping configuration details separate from the components that use them.
package config
