// Package aws provides an AWS SNS/SQS transport for replybridge. Each SNS topic
// fans out to SQS queues; a durable subscription name picks the queue.
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
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/replybridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

// LocalStack accepts any twelve digit account; this is the one it reports.
const localstackAccountID = "000000000000"

// Seams replaced in tests.
var (
	DefaultConfigLoader  = awsconfig.LoadDefaultConfig
	TopicResolverFactory = sns.NewGenerateArnTopicResolver

	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return sns.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return sns.NewSubscriber(cfg, sqsCfg, logger)
	}
)

func init() {
	Register()
}

// Register registers the AWS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// session is everything publishers and subscribers of one transport share.
type session struct {
	aws      aws.Config
	endpoint *url.URL
	resolver sns.TopicResolver
	logger   watermill.LoggerAdapter
}

// Build creates a new AWS SNS/SQS transport. The default subscriber reads the
// shared per-topic queue; NewSubscriber with a durable name reads its own.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := s.publisher()
	if err != nil {
		return transport.Transport{}, err
	}
	subscriber, err := s.subscriber(transport.SubscriberOptions{})
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:     publisher,
		Subscriber:    subscriber,
		NewSubscriber: s.subscriber,
	}, nil
}

func openSession(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (*session, error) {
	endpoint, err := awsEndpointURL(cfg)
	if err != nil {
		logger.Error("Rejected AWS endpoint", err, nil)
		return nil, err
	}

	awsCfg, err := DefaultConfigLoader(ctx, loadOptions(cfg)...)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": regionOf(cfg)})
		return nil, err
	}
	if region := regionOf(cfg); region != "" {
		awsCfg.Region = region
	}
	if endpoint != nil {
		awsCfg.BaseEndpoint = aws.String(endpoint.String())
	}

	accountID, region := resolveAccountAndRegion(cfg, logger, awsCfg.Region)
	resolver, err := TopicResolverFactory(accountID, region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"account_id": accountID,
			"region":     region,
		})
		return nil, err
	}

	logger.Info("AWS session ready", watermill.LogFields{
		"account_id":      accountID,
		"region":          region,
		"custom_endpoint": endpoint != nil,
	})
	return &session{aws: awsCfg, endpoint: endpoint, resolver: resolver, logger: logger}, nil
}

func loadOptions(cfg transport.Config) []func(*awsconfig.LoadOptions) error {
	if cfg == nil {
		return nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: key, SecretAccessKey: secret, Source: "replybridge"}, nil
			},
		)))
	}
	return opts
}

func (s *session) publisher() (message.Publisher, error) {
	pubCfg := sns.PublisherConfig{
		AWSConfig:     s.aws,
		TopicResolver: s.resolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}
	if s.endpoint != nil {
		base := s.endpoint.String()
		pubCfg.OptFns = append(pubCfg.OptFns, func(o *amazonsns.Options) {
			o.BaseEndpoint = aws.String(base)
		})
	}
	return PublisherFactory(pubCfg, s.logger)
}

func (s *session) subscriber(opts transport.SubscriberOptions) (message.Subscriber, error) {
	snsCfg := sns.SubscriberConfig{
		AWSConfig:            s.aws,
		TopicResolver:        s.resolver,
		GenerateSqsQueueName: queueNamer(opts.DurableName),
	}
	sqsCfg := sqs.SubscriberConfig{AWSConfig: s.aws}

	if s.endpoint != nil {
		override := smithyendpoints.Endpoint{URI: *s.endpoint}
		snsCfg.OptFns = append(snsCfg.OptFns, amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: override}))
		sqsCfg.OptFns = append(sqsCfg.OptFns, amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: override}))
	}
	return SubscriberFactory(snsCfg, sqsCfg, s.logger)
}

// queueNamer names the SQS queue after the topic, suffixed with the durable
// name when there is one.
func queueNamer(durableName string) func(context.Context, sns.TopicArn) (string, error) {
	return func(_ context.Context, arn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(arn)
		if err != nil {
			return "", err
		}
		if durableName == "" {
			return string(topic), nil
		}
		return fmt.Sprintf("%s-%s", topic, durableName), nil
	}
}

// resolveAccountAndRegion falls back to the loaded region and, when an
// endpoint override points at LocalStack, to its fixed account.
func resolveAccountAndRegion(cfg transport.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	if cfg == nil {
		return "", fallbackRegion
	}

	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	if cfg.GetAWSEndpoint() != "" && len(accountID) != len(localstackAccountID) {
		logger.Info("Using LocalStack account ID", watermill.LogFields{"configured": accountID})
		accountID = localstackAccountID
	}
	return accountID, region
}

func awsEndpointURL(cfg transport.Config) (*url.URL, error) {
	if cfg == nil || cfg.GetAWSEndpoint() == "" {
		return nil, nil
	}
	parsed, err := url.Parse(cfg.GetAWSEndpoint())
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	return parsed, nil
}

func regionOf(cfg transport.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.GetAWSRegion()
}
