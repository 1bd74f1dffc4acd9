// Package transport defines the registry of channel backends for syncflow.
// Each backend (kafka, rabbitmq, aws, etc.) lives in its own sub-package and
// registers a Builder that returns a Watermill publisher/subscriber pair
// configured for broadcast fan-out: every participant receives every flit
// published on a topic, its own included.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by backends.
// This interface allows backends to read only the settings they need
// without depending on the full config package.
type Config interface {
	// GetChannelSystem returns the backend name.
	GetChannelSystem() string
	// GetParticipantID identifies this participant. Backends that load
	// balance between consumers use it to give each participant its own
	// consumer group or queue.
	GetParticipantID() string

	// Kafka
	GetKafkaBrokers() []string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by backends that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
