// Package transport builds the transport a Service runs on from its config.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/replybridge/internal/runtime/config"
	"github.com/drblury/replybridge/transport"

	// Register every built-in transport.
	_ "github.com/drblury/replybridge/transport/transports"
)

// Transport is a built transport together with what it can do.
type Transport struct {
	transport.Transport
	Capabilities transport.Capabilities
}

// Factory abstracts how replybridge initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory returns a factory backed by transport.DefaultRegistry.
func DefaultFactory() Factory {
	return RegistryFactory(nil)
}

// RegistryFactory returns a factory backed by registry, or by
// transport.DefaultRegistry when registry is nil.
func RegistryFactory(registry *transport.Registry) Factory {
	return registryFactory{registry: registry}
}

type registryFactory struct {
	registry *transport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	registry := f.registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}

	t, err := registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Transport:    t,
		Capabilities: registry.GetCapabilities(conf.PubSubSystem),
	}, nil
}
