// Package transports imports all built-in channel backends for auto-registration.
// Import this package to have every backend registered with the default registry.
package transports

import (
	// Import all backends for side-effect registration
	_ "github.com/drblury/syncflow/transport/aws"
	_ "github.com/drblury/syncflow/transport/channel"
	_ "github.com/drblury/syncflow/transport/http"
	_ "github.com/drblury/syncflow/transport/io"
	_ "github.com/drblury/syncflow/transport/kafka"
	_ "github.com/drblury/syncflow/transport/nats"
	_ "github.com/drblury/syncflow/transport/rabbitmq"
)
