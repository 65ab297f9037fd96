// Command tradecapture-service boots the full ingestion engine: the
// Kafka-compatible consumer loop (C9/C10), the REST façade (§6), and the
// metrics server, wired over the durable Postgres store and the Redis
// fast-path layer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/config"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/database"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/logging"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/internal/tracing"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/approval"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/backpressure"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/blotterstore"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/cachelayer"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/consumer"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/dlq"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/enricher"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/idempotency"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/ingress"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/jobstore"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/metrics"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/partitionlock"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/pipeline"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/publisher"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/refdata"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/restapi"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/retrysupervisor"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/rulesengine"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/sequence"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/statemachine"
	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/validation"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tracerProvider, err := tracing.NewProvider(ctx, "tradecapture-service")
	if err != nil {
		logger.Fatal("failed to start tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	db, err := database.Connect(&database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, Database: cfg.Database.Database, SSLMode: cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns, MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to durable store", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal("failed to apply schema migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	// producerClient backs the router (C9 republish), the bus/DLQ
	// producers, and the ingress consume loop off the single upstream
	// topic. consumerClient is dedicated to the C10 partition-topic
	// consumer group so its regex subscription and cooperative-sticky
	// rebalance never contend with the upstream leg's fetch loop.
	producerClient, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Broker.SeedBrokers...),
	)
	if err != nil {
		logger.Fatal("failed to connect to message broker", zap.Error(err))
	}
	defer producerClient.Close()
	kafkaClient := producerClient

	consumerClient, err := kgo.NewClient(
		consumer.ClientOpts(cfg.Broker.SeedBrokers, cfg.Broker.ConsumerGroup, cfg.Broker.InputTopicPrefix)...,
	)
	if err != nil {
		logger.Fatal("failed to connect consumer group to message broker", zap.Error(err))
	}
	defer consumerClient.Close()

	adminClient := kadm.NewClient(consumerClient)

	// --- C1-C14 component wiring ---

	rateLimiter := backpressure.New(redisClient,
		backpressure.BucketConfig{Capacity: float64(cfg.RateLimit.GlobalBurst), RatePerSec: float64(cfg.RateLimit.GlobalRatePerSec)},
		backpressure.BucketConfig{Capacity: float64(cfg.RateLimit.PartitionBurst), RatePerSec: float64(cfg.RateLimit.PartitionRatePerSec)})

	locker := partitionlock.New(redisClient, logger)

	idempotencyStore := idempotency.New(db, redisClient, logger, cfg.Idempotency.Window, cfg.Idempotency.CacheTTL)

	gate := sequence.New(cfg.Sequence.BufferWindow, cfg.Sequence.Timeout, cfg.Sequence.TimeWindowDays, logger)
	stopSweep := make(chan struct{})
	defer close(stopSweep)
	gate.StartSweeper(cfg.Sequence.SweepInterval, stopSweep, func(res sequence.SweepResult) {
		logger.Warn("sequence buffer timeout", logging.PartitionFields("sequence_timeout", res.PartitionKey).ToZap()...)
	})

	enrichmentCache := cachelayer.NewEnrichmentCache(redisClient, logger)
	enr := enricher.New([]enricher.Lookup{
		refdata.NewSecurityMasterLookup(cfg.Enrichment.SecurityMasterURL, cfg.Enrichment.ConnectTimeout, cfg.Enrichment.ReadTimeout),
		refdata.NewAccountMasterLookup(cfg.Enrichment.AccountMasterURL, cfg.Enrichment.ConnectTimeout, cfg.Enrichment.ReadTimeout),
		refdata.NewCreditLookup(cfg.Enrichment.CreditURL, cfg.Enrichment.ConnectTimeout, cfg.Enrichment.ReadTimeout),
	}, enrichmentCache, cfg.Enrichment.CacheTTL, logger)

	ruleStore := rulesengine.NewRuleStore()
	if seed, err := loadRuleSeed(cfg.Rules.SeedFile); err != nil {
		logger.Warn("failed to load rule seed file; starting with an empty rule set", zap.Error(err))
	} else {
		ruleStore.Seed(seed)
	}
	if watcher, err := config.WatchRules(cfg.Rules.SeedFile, func() {
		if seed, err := loadRuleSeed(cfg.Rules.SeedFile); err == nil {
			ruleStore.Seed(seed)
			logger.Info("reloaded rule seed file")
		} else {
			logger.Warn("failed to reload rule seed file", zap.Error(err))
		}
	}); err != nil {
		logger.Warn("not watching rule seed file for changes", zap.Error(err))
	} else {
		defer watcher.Close()
	}
	rules := rulesengine.New(ruleStore, logger)

	validationCtx, validationCancel := context.WithTimeout(ctx, 10*time.Second)
	validator, err := validation.New(validationCtx, "")
	validationCancel()
	if err != nil {
		logger.Fatal("failed to compile validation policy", zap.Error(err))
	}

	approvalCtx, approvalCancel := context.WithTimeout(ctx, 10*time.Second)
	approvalSvc, err := approval.New(approvalCtx, "")
	approvalCancel()
	if err != nil {
		logger.Fatal("failed to compile approval policy", zap.Error(err))
	}

	partitionCache := cachelayer.NewPartitionCache(redisClient, cfg.Enrichment.CacheTTL, logger)
	stateMachine := statemachine.New(db, partitionCache, logger)

	blotters := blotterstore.New(db)

	retry := retrysupervisor.New(db, retrysupervisor.Config{
		MaxAttempts: cfg.DeadlockRetry.MaxAttempts, Initial: cfg.DeadlockRetry.Initial,
		Max: cfg.DeadlockRetry.Max, Multiplier: cfg.DeadlockRetry.Multiplier,
	}, logger)

	dlqSink := dlq.New(kafkaClient, cfg.Broker.DLQTopic, 5*time.Second, logger)

	subscribers := []publisher.Subscriber{
		publisher.NewBusSubscriber("blotter-bus", kafkaClient, cfg.Broker.OutputTopicPrefix),
	}
	if cfg.Publish.SlackToken != "" {
		subscribers = append(subscribers, publisher.NewSlackOpsAlertSubscriber("ops-alert", cfg.Publish.SlackToken, cfg.Publish.SlackChannel))
	}
	if cfg.Publish.OpsWebhookURL != "" {
		subscribers = append(subscribers, publisher.NewWebhookSubscriber("ops-webhook", cfg.Publish.OpsWebhookURL))
	}
	pub := publisher.New(subscribers, logger)

	notifier := restapi.NewJobWebhookNotifier(logger)
	jobs := jobstore.New(db, notifier, logger)

	pl := pipeline.New(
		pipeline.Config{LockWaitTimeout: cfg.PartitionLock.Wait, LockHoldTTL: cfg.PartitionLock.Hold},
		rateLimiter, locker, idempotencyStore, gate, enr, rules, validator, approvalSvc,
		stateMachine, blotters, retry, pub, dlqSink, jobs, logger,
	)

	// --- C9/C10: ingress router + consumer group ---

	router := ingress.New(kafkaClient, cfg.Broker.InputTopicPrefix, dlqSink, logger)
	go runIngressLoop(ctx, kafkaClient, cfg.Broker.InputTopic, router, logger)

	consumerMgr := consumer.New(
		consumerClient,
		consumer.NewKadmLagSampler(adminClient),
		consumer.Config{
			GroupID: cfg.Broker.ConsumerGroup, MaxLag: cfg.Backpressure.MaxLag, ResumeLag: cfg.Backpressure.ResumeLag,
			MaxInflight: cfg.Backpressure.MaxInflight, LagInterval: cfg.Backpressure.LagInterval,
		},
		func(ctx context.Context, record *kgo.Record) error {
			var req model.TradeCaptureRequest
			if err := json.Unmarshal(record.Value, &req); err != nil {
				return dlqSink.Emit(ctx, dlq.Entry{
					Payload: record.Value, Stage: dlq.StageConsumer,
					ErrorClass: "undecodable_payload", ErrorMessage: err.Error(), Timestamp: time.Now(),
				})
			}
			result := pl.Execute(ctx, &req, "")
			metrics.RecordTradeCaptured(string(result.Outcome))
			return result.Err
		},
		logger,
	)
	go func() {
		if err := consumerMgr.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("consumer manager stopped unexpectedly", zap.Error(err))
		}
	}()

	// --- §6 REST façade ---

	admission := backpressure.NewAdmissionQueue(cfg.Backpressure.MaxInflight, 0.8, logger)

	restServer := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: restapi.NewRouter(restapi.Deps{
			Pipeline: pl, Jobs: jobs, RateLimiter: rateLimiter, Admission: admission,
			Gate: gate, Consumer: consumerMgr, ConsumerGroup: cfg.Broker.ConsumerGroup,
			Rules: ruleStore, Logger: logger, AllowedOrigins: []string{"*"},
		}),
	}
	go func() {
		if err := restServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("REST façade stopped unexpectedly", zap.Error(err))
		}
	}()

	metricsLog := logrus.New()
	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, metricsLog)
	metricsServer.StartAsync()

	logger.Info("trade capture service started",
		zap.String("restPort", cfg.Server.Port), zap.String("metricsPort", cfg.Server.MetricsPort))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = restServer.Shutdown(shutdownCtx)
	_ = metricsServer.Stop(shutdownCtx)
}

// loadRuleSeed reads the JSON-encoded rule-set seed file named by §6's
// rules.seed_file config key.
func loadRuleSeed(path string) ([]model.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []model.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// runIngressLoop polls the single upstream input topic and hands each
// message to the router for per-partition republishing, per §4.9.
func runIngressLoop(ctx context.Context, client *kgo.Client, inputTopic string, router *ingress.Router, logger *zap.Logger) {
	client.AddConsumeTopics(inputTopic)
	for {
		fetches := client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			logger.Error("fetch error", zap.String("topic", topic), zap.Int32("partition", partition), zap.Error(err))
		})
		fetches.EachRecord(func(record *kgo.Record) {
			if err := router.Route(ctx, record.Value); err != nil {
				logger.Error("failed to route inbound trade capture message", zap.Error(err))
			}
		})
	}
}
