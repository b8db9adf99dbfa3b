package searchd

import (
	"go.uber.org/zap"

	"github.com/ledgerkit/searchd/internal/search"
)

// Option configures the Client.
type Option func(*clientConfig)

type clientConfig struct {
	addresses []string
	username  string
	password  string
	logger    *zap.Logger
	types     search.TypeRegistry
	restrict  search.Restrictor
}

// WithAddresses sets the cluster node addresses.
func WithAddresses(addrs ...string) Option {
	return func(c *clientConfig) {
		c.addresses = append(c.addresses, addrs...)
	}
}

// WithBasicAuth sets cluster credentials.
func WithBasicAuth(username, password string) Option {
	return func(c *clientConfig) {
		c.username = username
		c.password = password
	}
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithTypeRegistry overrides the static object-type set, for callers whose
// searchable types vary per tenant.
func WithTypeRegistry(types search.TypeRegistry) Option {
	return func(c *clientConfig) {
		c.types = types
	}
}

// WithRestrictor wires per-principal customer restrictions into every query.
func WithRestrictor(restrict search.Restrictor) Option {
	return func(c *clientConfig) {
		c.restrict = restrict
	}
}
