// Package kafka provides a Kafka channel backend for syncflow.
//
// Every participant consumes with its own consumer group, so each one sees
// every flit. Flits are keyed by their source so one participant's flits
// share a partition and stay ordered.
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/syncflow/internal/runtime/channel"
	"github.com/drblury/syncflow/transport"
)

// TransportName is the name used to register this backend.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka backend with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	marshaler := kafka.NewWithPartitioningMarshaler(partitionBySource)

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			ConsumerGroup:         cfg.GetParticipantID(),
			OverwriteSaramaConfig: subscriberSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

func partitionBySource(topic string, msg *message.Message) (string, error) {
	source := msg.Metadata.Get(channel.MetadataSource)
	if source == "" {
		return "", fmt.Errorf("kafka: flit %s on %q has no source", msg.UUID, topic)
	}
	return source, nil
}

// A participant that joins late must not replay flits it never requested.
func subscriberSaramaConfig() *sarama.Config {
	conf := kafka.DefaultSaramaSubscriberConfig()
	conf.Consumer.Offsets.Initial = sarama.OffsetNewest
	return conf
}
