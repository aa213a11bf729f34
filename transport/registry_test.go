package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	pubSubSystem string
}

func (m *mockConfig) GetPubSubSystem() string        { return m.pubSubSystem }
func (m *mockConfig) GetKafkaBrokers() []string      { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string  { return "" }
func (m *mockConfig) GetRabbitMQURL() string         { return "" }
func (m *mockConfig) GetNATSURL() string             { return "" }
func (m *mockConfig) GetJetStreamStreamName() string { return "" }
func (m *mockConfig) GetHTTPServerAddress() string   { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string    { return "" }
func (m *mockConfig) GetAWSRegion() string           { return "" }
func (m *mockConfig) GetAWSAccountID() string        { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string      { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string  { return "" }
func (m *mockConfig) GetAWSEndpoint() string         { return "" }

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error { return nil }

func okBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("test-transport", okBuilder, Capabilities{
		Name:            "test-transport",
		SupportsDurable: true,
	})

	assert.True(t, reg.Has("test-transport"))
	caps := reg.GetCapabilities("test-transport")
	assert.Equal(t, "test-transport", caps.Name)
	assert.True(t, caps.SupportsDurable)
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	caps := NewRegistry().GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.SupportsDurable)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-transport", okBuilder)

	tr, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "test-transport"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
}

func TestRegistry_BuildResolvesAliases(t *testing.T) {
	reg := NewRegistry()
	var built []string
	for _, name := range []string{"channel", "rabbitmq", "nats-jetstream", "aws"} {
		name := name
		reg.Register(name, func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
			built = append(built, name)
			return Transport{}, nil
		})
	}

	for _, alias := range []string{"", "gochannel", "AMQP", "jetstream", " sns "} {
		_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: alias}, nil)
		require.NoError(t, err, alias)
	}
	assert.Equal(t, []string{"channel", "channel", "rabbitmq", "nats-jetstream", "aws"}, built)
}

func TestRegistry_Build_NilConfig(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "config is required")
}

func TestRegistry_Build_UnknownTransport(t *testing.T) {
	_, err := NewRegistry().Build(context.Background(), &mockConfig{pubSubSystem: "unknown-transport"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTransport)
	assert.ErrorContains(t, err, "unknown-transport")
}

func TestRegistry_Build_BuilderError(t *testing.T) {
	reg := NewRegistry()
	expectedErr := errors.New("builder error")
	reg.Register("failing-transport", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, expectedErr
	})

	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "failing-transport"}, nil)
	assert.Equal(t, expectedErr, err)
}

func TestRegistry_Build_PassesNopLogger(t *testing.T) {
	reg := NewRegistry()
	reg.Register("logged", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		assert.NotNil(t, logger)
		return Transport{}, nil
	})
	_, err := reg.Build(context.Background(), &mockConfig{pubSubSystem: "logged"}, nil)
	require.NoError(t, err)
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("zeta", okBuilder)
	reg.Register("alpha", okBuilder)
	reg.Register("mid", okBuilder)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}

func TestRegistry_Has(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Has("channel"))

	reg.Register("channel", okBuilder)
	assert.True(t, reg.Has("channel"))
	assert.True(t, reg.Has("gochannel"))
	assert.False(t, reg.Has("other-transport"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegisterWithCapabilities(t *testing.T) {
	RegisterWithCapabilities("test-pkg-caps-transport", okBuilder, Capabilities{
		Name:            "test-pkg-caps-transport",
		SupportsDurable: true,
	})

	assert.True(t, DefaultRegistry.Has("test-pkg-caps-transport"))
	assert.True(t, GetCapabilities("test-pkg-caps-transport").SupportsDurable)

	_, err := Build(context.Background(), &mockConfig{pubSubSystem: "nonexistent"}, nil)
	assert.Error(t, err)
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "channel", Canonical(""))
	assert.Equal(t, "kafka", Canonical("Kafka"))
	assert.Equal(t, "custom", Canonical("custom"))
}
