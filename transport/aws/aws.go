// Package aws provides an AWS SNS/SQS channel backend for syncflow.
//
// Each topic is an SNS topic; every participant subscribes its own SQS queue
// to it, so all participants receive every flit. Standard SQS queues do not
// preserve order, which the transport reports as a warning at startup.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/syncflow/transport"
)

// TransportName is the ChannelSystem value selecting this backend.
const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
	maxQueueNameLength  = 80
)

// Test seams for the AWS SDK and the Watermill SNS constructors.
var (
	DefaultConfigLoader  = awsconfig.LoadDefaultConfig
	TopicResolverFactory = sns.NewGenerateArnTopicResolver
	PublisherFactory     = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

func init() {
	Register()
}

// Register adds the backend to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// fanout holds what the SNS publisher and the per-participant SQS
// subscriber share.
type fanout struct {
	awsCfg   aws.Config
	resolver sns.TopicResolver
	snsOpts  []func(*amazonsns.Options)
	sqsOpts  []func(*amazonsqs.Options)
}

// Build wires an SNS publisher and an SNS-to-SQS subscriber for one
// participant. Both talk to the same endpoint and resolve topics against the
// same account.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	f, err := newFanout(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(sns.PublisherConfig{
		AWSConfig:     f.awsCfg,
		OptFns:        f.snsOpts,
		TopicResolver: f.resolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create sns publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(sns.SubscriberConfig{
		AWSConfig:            f.awsCfg,
		OptFns:               f.snsOpts,
		TopicResolver:        f.resolver,
		GenerateSqsQueueName: participantQueueName(participantOf(cfg)),
	}, sqs.SubscriberConfig{
		AWSConfig: f.awsCfg,
		OptFns:    f.sqsOpts,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("create sns subscriber: %w", err)
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

func newFanout(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (fanout, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": regionOf(cfg)})
		return fanout{}, err
	}

	accountID, region := resolveAccountAndRegion(cfg, logger, awsCfg.Region)
	resolver, err := TopicResolverFactory(accountID, region)
	if err != nil {
		return fanout{}, fmt.Errorf("sns topic resolver for account %q in %q: %w", accountID, region, err)
	}

	f := fanout{awsCfg: awsCfg, resolver: resolver}

	endpoint, err := awsEndpointURL(cfg)
	if err != nil {
		return fanout{}, err
	}
	if endpoint == nil && awsCfg.BaseEndpoint != nil && *awsCfg.BaseEndpoint != "" {
		if endpoint, err = url.Parse(*awsCfg.BaseEndpoint); err != nil {
			return fanout{}, fmt.Errorf("parse AWS base endpoint: %w", err)
		}
	}
	if endpoint != nil {
		f.snsOpts = append(f.snsOpts, amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *endpoint},
		}))
		f.sqsOpts = append(f.sqsOpts, amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *endpoint},
		}))
	}

	logger.Info("AWS fan-out ready", watermill.LogFields{
		"account_id": accountID,
		"region":     region,
		"endpoint":   endpoint != nil,
	})
	return f, nil
}

func loadAWSConfig(ctx context.Context, cfg transport.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	region := regionOf(cfg)
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if cfg != nil && cfg.GetAWSAccessKeyID() != "" && cfg.GetAWSSecretAccessKey() != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(), ""),
		))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if region != "" {
		awsCfg.Region = region
	}
	return awsCfg, nil
}

// resolveAccountAndRegion picks the account the topic ARNs are generated
// for. A custom endpoint means LocalStack, whose account is all zeros.
func resolveAccountAndRegion(cfg transport.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	region := regionOf(cfg)
	if region == "" {
		region = fallbackRegion
	}
	if cfg == nil {
		return "", region
	}

	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	if cfg.GetAWSEndpoint() != "" && len(accountID) != awsAccountIDLength {
		logger.Info("Using LocalStack account for custom AWS endpoint", watermill.LogFields{
			"configured_account_id": accountID,
		})
		accountID = localstackAccountID
	}
	return accountID, region
}

func awsEndpointURL(cfg transport.Config) (*url.URL, error) {
	if cfg == nil || cfg.GetAWSEndpoint() == "" {
		return nil, nil
	}
	u, err := url.Parse(cfg.GetAWSEndpoint())
	if err != nil {
		return nil, fmt.Errorf("parse AWS endpoint: %w", err)
	}
	return u, nil
}

// participantQueueName gives every participant its own queue per topic so
// SNS delivers each flit to all of them.
func participantQueueName(participant string) sns.GenerateSqsQueueNameFn {
	return func(ctx context.Context, topicArn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(topicArn)
		if err != nil {
			return "", err
		}
		return sqsQueueName(string(topic) + "-" + participant), nil
	}
}

// sqsQueueName maps name onto the characters and length SQS accepts.
func sqsQueueName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	if len(name) > maxQueueNameLength {
		name = name[:maxQueueNameLength]
	}
	return name
}

func participantOf(cfg transport.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.GetParticipantID()
}

func regionOf(cfg transport.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.GetAWSRegion()
}
