package manager

import (
	"net"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ledgerkit/ledgerkit/manager/schema"
	"github.com/ledgerkit/ledgerkit/manager/subscription"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "LEDGERKIT_"

// Config is used to tune the Manager.
type Config struct {
	// ListenAddr is the gRPC endpoint, host:port or proto://addr.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"127.0.0.1:4243"`
	// Listener will be used for grpc serving if it's not nil, ListenAddr
	// will be used otherwise.
	Listener net.Listener

	// MetricsAddr is where Prometheus metrics are served. Empty disables
	// the endpoint.
	MetricsAddr string `env:"METRICS_ADDR"`

	// StateDir holds the transaction journal. Empty keeps everything in
	// memory.
	StateDir string `env:"STATE_DIR"`

	// Schemas decodes payloads for filter expressions. Nil gives the
	// manager its own registry that decodes every schema as JSON.
	Schemas *schema.Registry

	// QueueSize and DeliveryTimeout bound every subscription.
	QueueSize       int           `env:"QUEUE_SIZE" envDefault:"64"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`
}

// LoadConfig reads a Config from LEDGERKIT_* environment variables, filling
// in defaults for the ones that are unset.
func LoadConfig() (*Config, error) {
	var config Config
	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errors.Wrap(err, "parsing environment")
	}
	return &config, nil
}

func (c *Config) hubConfig() subscription.Config {
	return subscription.Config{
		QueueSize:       c.QueueSize,
		DeliveryTimeout: c.DeliveryTimeout,
	}
}
