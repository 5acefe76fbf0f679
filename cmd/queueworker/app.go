package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"github.com/illmade-knight/go-queueworker/pkg/cache"
	"github.com/illmade-knight/go-queueworker/pkg/config"
	"github.com/illmade-knight/go-queueworker/pkg/messagepipeline"
	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/microservice"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const shutdownTimeout = 15 * time.Second

// topicPublisher is what the commands need from the outbound topic.
type topicPublisher interface {
	messagepipeline.Publisher
	messagepipeline.BatchPublisher
}

// app holds what every command builds first: config, logger, metrics and the
// health server. closers run in reverse order on shutdown.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	reg     *metrics.Registry
	server  *microservice.BaseServer
	closers []func(ctx context.Context) error
}

func newApp(opts *rootOptions, service string) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger := zerolog.New(os.Stderr).Level(cfg.Level()).With().Timestamp().Str("service", service).Logger()
	return &app{
		cfg:    cfg,
		logger: logger,
		reg:    metrics.NewRegistry(service),
	}, nil
}

func (a *app) onClose(f func(ctx context.Context) error) {
	a.closers = append(a.closers, f)
}

func (a *app) closeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Error during shutdown, continuing.")
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) clientOptions() []option.ClientOption {
	if a.cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(a.cfg.CredentialsFile)}
}

func (a *app) startServer() error {
	a.server = microservice.NewBaseServer(a.logger, a.cfg.MetricsAddr(), a.reg.Handler())
	if err := a.server.Start(); err != nil {
		return err
	}
	a.onClose(a.server.Shutdown)
	return nil
}

// newCache builds the configured cache. Redis is connected eagerly and a failure
// is returned so the worker refuses to start.
func (a *app) newCache(ctx context.Context) (cache.Cache, error) {
	var c cache.Cache
	switch a.cfg.Cache.Backend {
	case config.BackendRedis:
		rc := a.cfg.Cache.Redis
		redisCache, err := cache.NewReconnectingCache(&cache.RedisConfig{
			Addr:             rc.Addr(),
			Password:         rc.Password,
			DB:               rc.DB,
			ConnectTimeout:   rc.ConnectTimeout,
			OperationTimeout: rc.OperationTimeout,
			MaxRetries:       rc.MaxRetries,
			RetryInterval:    rc.RetryInterval,
		}, nil, a.logger)
		if err != nil {
			return nil, err
		}
		if err := redisCache.Connect(ctx); err != nil {
			return nil, fmt.Errorf("cache startup: %w", err)
		}
		c = redisCache
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, a.cfg.ProjectID, a.clientOptions()...)
		if err != nil {
			return nil, fmt.Errorf("firestore.NewClient: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		fsCache, err := cache.NewFirestoreCache(&cache.FirestoreConfig{
			ProjectID:      a.cfg.ProjectID,
			CollectionName: a.cfg.Cache.FirestoreCollection,
		}, client, a.logger)
		if err != nil {
			return nil, err
		}
		c = fsCache
	default:
		a.logger.Warn().Msg("Using the in-memory cache; idempotency is not shared between replicas.")
		c = cache.NewInMemoryCache()
	}
	a.onClose(closeWith(c))
	return c, nil
}

// newPublisher builds the outbound topic publisher for the configured backend.
func (a *app) newPublisher(ctx context.Context) (topicPublisher, error) {
	if err := a.cfg.ValidatePublisher(); err != nil {
		return nil, err
	}
	var pub topicPublisher
	switch a.cfg.Topic.Backend {
	case config.BackendKafka:
		kp, err := messagepipeline.NewKafkaPublisher(&messagepipeline.KafkaPublisherConfig{
			Brokers: a.cfg.Topic.KafkaBrokers,
			Topic:   a.cfg.Topic.TopicID,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		pub = kp
	default:
		client, err := pubsub.NewClient(ctx, a.cfg.ProjectID, a.clientOptions()...)
		if err != nil {
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		pubCfg := messagepipeline.NewGooglePublisherDefaults(a.cfg.Topic.TopicID)
		pubCfg.PublishTimeout = a.cfg.Topic.PublishTimeout
		gp, err := messagepipeline.NewGooglePublisher(ctx, pubCfg, client, a.logger)
		if err != nil {
			return nil, err
		}
		pub = gp
	}
	a.onClose(pub.Stop)
	return pub, nil
}

// newConsumer builds the pull consumer for the configured subscription.
func (a *app) newConsumer(ctx context.Context) (*messagepipeline.GooglePullConsumer, error) {
	if err := a.cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	client, err := pubsubapi.NewSubscriberClient(ctx, a.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("pubsub subscriber client: %w", err)
	}
	a.onClose(func(context.Context) error { return client.Close() })

	q := a.cfg.Queue
	consumerCfg := messagepipeline.NewGooglePullConsumerDefaults(a.cfg.ProjectID, q.Subscription)
	consumerCfg.MaxMessages = int32(q.MaxMessages)
	consumerCfg.WaitTime = q.WaitTime
	consumerCfg.PollErrorBackoff = q.PollErrorBackoff
	return messagepipeline.NewGooglePullConsumer(consumerCfg,
		messagepipeline.NewGoogleSubscriptionClient(client, a.cfg.ProjectID, q.Subscription), a.reg, a.logger)
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}
