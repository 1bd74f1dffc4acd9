// Package channel provides an in-memory Go channel backend for syncflow.
// This backend is useful for testing and for participants living in one
// process.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/syncflow/transport"
)

// TransportName is the name used to register this backend.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register registers the channel backend with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a new Go channel transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(PubSubConfig(), logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// PubSubConfig is the gochannel configuration flits need. gochannel fans a
// message out from one goroutine per subscriber; blocking until every
// subscriber acked keeps consecutive flits in order.
func PubSubConfig() gochannel.Config {
	return gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
