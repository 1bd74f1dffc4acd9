package transport

// Capabilities describes what a channel backend guarantees.
type Capabilities struct {
	// Name is the human-readable name of the backend.
	Name string

	// SupportsOrdering indicates flits published by one participant on a
	// topic reach every subscriber in publish order. The sync transport
	// relies on this; backends without it can reorder flits of a message.
	SupportsOrdering bool

	// Broadcast indicates every participant receives every flit. When false
	// the backend is point-to-point and only the configured peer listens.
	Broadcast bool

	// Loopback indicates a participant receives its own flits.
	Loopback bool

	// SupportsAck indicates the backend supports explicit acknowledgment.
	SupportsAck bool

	// Durable indicates flits survive a subscriber restart.
	Durable bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SuitableForSync reports whether flits sent over the backend arrive in
// order at every participant.
func (c Capabilities) SuitableForSync() bool {
	return c.SupportsOrdering && c.Broadcast
}

// FitsPayload reports whether a flit of n bytes fits the backend limit.
func (c Capabilities) FitsPayload(n int) bool {
	return c.MaxMessageSize == 0 || int64(n) <= c.MaxMessageSize
}

// Predefined capability sets for the bundled backends.
var (
	// ChannelCapabilities for the in-memory Go channel backend.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		Broadcast:        true,
		Loopback:         true,
		SupportsAck:      true,
	}

	// KafkaCapabilities for Apache Kafka. Ordering holds because all flits
	// of a participant are keyed onto one partition.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		Broadcast:        true,
		Loopback:         true,
		SupportsAck:      true,
		Durable:          true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP with a fanout exchange and one
	// queue per participant.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		Broadcast:        true,
		Loopback:         true,
		SupportsAck:      true,
	}

	// NATSCapabilities for NATS Core. A single connection delivers in order.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsOrdering: true,
		Broadcast:        true,
		Loopback:         true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// AWSCapabilities for SNS fan-out into one SQS queue per participant.
	// Standard queues do not preserve order.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: false,
		Broadcast:        true,
		Loopback:         true,
		SupportsAck:      true,
		Durable:          true,
		MaxMessageSize:   262144, // 256KB
	}

	// HTTPCapabilities for the HTTP backend, which posts to a single peer.
	HTTPCapabilities = Capabilities{
		Name:             "http",
		SupportsOrdering: true,
		Broadcast:        false,
		Loopback:         false,
	}

	// IOCapabilities for the append-only file backend.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		Broadcast:        true,
		Loopback:         true,
		Durable:          true,
	}
)

// GetCapabilities returns the capabilities for a backend by name.
// Returns a zero Capabilities struct if the backend is unknown.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
