package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-presence-relay/internal/platform/auth"
	"github.com/tinywideclouds/go-presence-relay/internal/platform/persistence"
	psub "github.com/tinywideclouds/go-presence-relay/internal/platform/pubsub"
	"github.com/tinywideclouds/go-presence-relay/internal/platform/push"
	platformqueue "github.com/tinywideclouds/go-presence-relay/internal/platform/queue"
	"github.com/tinywideclouds/go-presence-relay/internal/queue"
	"github.com/tinywideclouds/go-presence-relay/internal/test/fakes"
	"github.com/tinywideclouds/go-presence-relay/pkg/relay"
	"github.com/tinywideclouds/go-presence-relay/relayservice/config"
)

const redisPingTimeout = 3 * time.Second

// newDependencies builds the service dependency container for the configured run mode.
// The returned cleanup closes every client that was opened.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*relay.ServiceDependencies, queue.Backend, func(), error) {
	switch cfg.RunMode {
	case config.RunModeLocal:
		logger.Warn("Running in local mode with in-memory collaborators")
		return newLocalDependencies(logger), nil, func() {}, nil
	default:
		return newProdDependencies(ctx, cfg, logger)
	}
}

// newLocalDependencies wires fakes. Any token is accepted as the caller's user id.
func newLocalDependencies(logger *slog.Logger) *relay.ServiceDependencies {
	return &relay.ServiceDependencies{
		Verifier:     fakes.NewVerifier(nil),
		Profiles:     fakes.NewProfileStore(nil),
		PushNotifier: fakes.NewPushNotifier(logger),
	}
}

// newProdDependencies creates real, production-ready dependencies.
func newProdDependencies(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*relay.ServiceDependencies, queue.Backend, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*relay.ServiceDependencies, queue.Backend, func(), error) {
		cleanup()
		return nil, nil, nil, err
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, logger)
	if err != nil {
		return fail(err)
	}

	// --- Profiles ---
	var profiles relay.ProfileStore
	switch cfg.ProfileStore.Type {
	case "firestore":
		logger.Debug("Connecting to Firestore", "project_id", cfg.ProjectID)
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to firestore: %w", err))
		}
		closers = append(closers, func() { _ = fsClient.Close() })
		profiles, err = persistence.NewFirestoreProfileStore(fsClient, cfg.ProfileStore.Collection, logger)
		if err != nil {
			return fail(err)
		}
	default:
		logger.Warn("Using in-memory profile store; last seen times will not persist")
		profiles = fakes.NewProfileStore(nil)
	}
	cached, err := persistence.NewCachedProfileStore(profiles, cfg.ProfileStore.CacheSize, logger)
	if err != nil {
		return fail(err)
	}

	// --- Push notifications ---
	logger.Debug("Connecting to PubSub", "project_id", cfg.ProjectID)
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fail(fmt.Errorf("failed to connect to pubsub: %w", err))
	}
	closers = append(closers, func() { _ = psClient.Close() })

	topicName := convertPubsub(cfg.ProjectID, cfg.PushNotificationsTopicID, Pub)
	if err := ensureTopic(ctx, psClient, topicName, logger); err != nil {
		return fail(err)
	}
	publisher := psClient.Publisher(topicName)
	closers = append(closers, publisher.Stop)

	notifier, err := push.NewPubSubNotifier(psub.NewProducer(publisher, logger), logger)
	if err != nil {
		return fail(err)
	}

	// --- Durable queue ---
	durable, closeRedis := newDurableQueue(ctx, cfg, logger)
	if closeRedis != nil {
		closers = append(closers, closeRedis)
	}

	logger.Debug("All production dependencies initialized")
	return &relay.ServiceDependencies{
		Verifier:     verifier,
		Profiles:     cached,
		PushNotifier: notifier,
	}, durable, cleanup, nil
}

// newDurableQueue connects to Redis. If Redis is not reachable the service
// still starts, with the broker in fallback mode.
func newDurableQueue(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (queue.Backend, func()) {
	redisAddr := cfg.DurableQueue.RedisAddr
	if redisAddr == "" {
		logger.Warn("No redis address configured (check REDIS_ADDR env var); using in-process queue")
		return nil, nil
	}

	logger.Debug("Connecting to Redis durable queue", "addr", redisAddr)
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	closeRedis := func() { _ = rdb.Close() }

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Error("Failed to connect to redis; using in-process queue", "addr", redisAddr, "err", err)
		closeRedis()
		return nil, nil
	}

	backend, err := platformqueue.NewRedisBackend(rdb, cfg.DurableQueue.KeyPrefix, cfg.DurableQueue.TTL, logger)
	if err != nil {
		logger.Error("Failed to create redis backend; using in-process queue", "err", err)
		closeRedis()
		return nil, nil
	}
	logger.Info("Connected to Redis durable queue", "addr", redisAddr)
	return backend, closeRedis
}

// ensureTopic creates the Pub/Sub topic if it doesn't already exist.
func ensureTopic(ctx context.Context, psClient *pubsub.Client, topicName string, logger *slog.Logger) error {
	logger.Debug("Ensuring topic exists", "topic", topicName)
	_, err := psClient.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Topic already exists, skipping creation", "topic", topicName)
			return nil
		}
		logger.Error("Failed to create topic", "topic", topicName, "err", err)
		return fmt.Errorf("could not create topic: %s", topicName)
	}
	return nil
}

// PS is a type for Pub/Sub resource types (Topic or Subscription).
type PS string

const (
	// Pub identifies a topic resource.
	Pub PS = "topics"
)

// convertPubsub formats a short ID into a full GCP resource name.
func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
