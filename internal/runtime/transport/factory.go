package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/syncflow/internal/runtime/config"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	backends "github.com/drblury/syncflow/transport"

	// Import all backends to register them.
	_ "github.com/drblury/syncflow/transport/transports"
)

// Transport combines a publisher and subscriber pair produced by a factory
// with what the backend guarantees.
type Transport struct {
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Capabilities backends.Capabilities
}

// Factory abstracts how syncflow initialises channel backends.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory returns the built-in factory backed by the backend registry.
func DefaultFactory() Factory {
	return registryFactory{registry: backends.DefaultRegistry}
}

// RegistryFactory builds backends from a specific registry.
func RegistryFactory(registry *backends.Registry) Factory {
	return registryFactory{registry: registry}
}

type registryFactory struct {
	registry *backends.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}

	t, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	// Undeclared backends get zero capabilities so the transport does not
	// second-guess them.
	caps, _ := f.registry.DeclaredCapabilities(conf.GetChannelSystem())
	return Transport{
		Publisher:    t.Publisher,
		Subscriber:   t.Subscriber,
		Capabilities: caps,
	}, nil
}
