// Package factory wires configuration, clients, stores, and services into
// a runnable application and owns their shutdown order.
package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"authcore/internal/audit"
	"authcore/internal/client"
	"authcore/internal/config"
	"authcore/internal/handler"
	"authcore/internal/model"
	"authcore/internal/notify"
	"authcore/internal/otp"
	"authcore/internal/ratelimit"
	"authcore/internal/relying"
	"authcore/internal/repository/memory"
	redisrepo "authcore/internal/repository/redis"
	"authcore/internal/repository/scylla"
	"authcore/internal/session"
	"authcore/internal/tls"
	"authcore/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Storage and services
	store      model.ChallengeStore
	recorder   audit.Recorder
	chRecorder *audit.ClickHouseRecorder
	otpService *otp.Service
	dispatcher *notify.Dispatcher
	limiter    *ratelimit.Limiter
	sessions   *session.Manager
	callbacks  *session.CallbackCodec
	relying    *relying.Client

	closeOnce sync.Once
}

// NewFactory loads configuration and initializes every dependency the
// configured backend needs.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg.Server)
	}

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeStore(); err != nil {
		f.Close()
		return nil, err
	}
	f.initializeServices()

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.StoreBackend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS))

	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch f.config.StoreBackend {
	case "redis":
		redisClient, err := client.NewRedisClient(f.config)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
	case "scylla":
		scyllaClient, err := scylla.NewScyllaClient(f.config)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("scylla health check: %w", err)
		}
	}

	if f.config.MailEnabled && len(f.config.Kafka.Brokers) > 0 {
		producer, err := client.NewKafkaProducer(f.config)
		if err != nil {
			util.Warn("Kafka producer initialization failed, falling back to log delivery",
				util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if f.config.AuditEnabled && f.config.Clickhouse.URL != "" {
		chClient, err := client.NewClickHouseClient(f.config)
		if err != nil {
			util.Warn("ClickHouse initialization failed, audit events disabled",
				util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	return nil
}

func (f *Factory) initializeStore() error {
	switch f.config.StoreBackend {
	case "memory":
		f.store = memory.NewChallengeStore()
	case "redis":
		f.store = redisrepo.NewChallengeStore(f.redisClient)
	case "scylla":
		f.store = scylla.NewChallengeStore(f.scyllaClient)
	default:
		return fmt.Errorf("unknown store backend %q", f.config.StoreBackend)
	}
	return nil
}

func (f *Factory) initializeServices() {
	cfg := f.config

	if f.clickhouseClient != nil {
		f.chRecorder = audit.NewClickHouseRecorder(f.clickhouseClient, cfg.Clickhouse.Table)
		f.recorder = f.chRecorder
	} else {
		f.recorder = audit.Nop()
	}

	f.otpService = otp.NewService(f.store, f.recorder, otp.Config{
		CodeDigits:       cfg.OTP.CodeDigits,
		TTL:              cfg.OTP.TTL,
		MaxAttempts:      cfg.OTP.MaxAttempts,
		LockoutThreshold: cfg.OTP.LockoutThreshold,
		LockoutWindow:    cfg.OTP.LockoutWindow,
	})

	var sender notify.Sender
	if f.kafkaProducer != nil {
		sender = notify.NewKafkaSender(f.kafkaProducer, cfg.Kafka.Topic)
	} else {
		if cfg.IsProduction() {
			util.Warn("No mail broker configured in production, codes go to the log")
		}
		sender = notify.LogSender{}
	}
	f.dispatcher = notify.NewDispatcher(sender, 10*time.Second)

	f.limiter = ratelimit.New(cfg.RateLimit.Shards)
	f.sessions = session.NewManager(
		cfg.Secrets.FlowCookie, cfg.Secrets.SessionCookie,
		cfg.Session.FlowTTL, cfg.Session.UserTTL)
	f.callbacks = session.NewCallbackCodec(cfg.Secrets.Callback, cfg.Session.CallbackTTL)
	f.relying = relying.NewClient(cfg.Relying)
}

func (f *Factory) Config() *config.Config { return f.config }

func (f *Factory) TLSManager() *tls.Manager { return f.tlsManager }

func (f *Factory) OTPService() *otp.Service { return f.otpService }

// Router assembles the HTTP surface over the wired services.
func (f *Factory) Router() http.Handler {
	authHandler := handler.NewAuthHandler(
		f.otpService, f.dispatcher, f.limiter, f.config.RateLimit,
		f.callbacks, f.sessions, f.relying,
		f.config.Relying.RedirectURI, util.Get())

	return handler.NewRouter(authHandler, util.Get(), handler.RouterOptions{
		EnforceHTTPS: f.config.Server.EnableTLS,
	})
}

// RunCleanupLoop deletes expired challenges and sweeps idle rate-limit
// buckets until ctx is canceled.
func (f *Factory) RunCleanupLoop(ctx context.Context) error {
	interval := f.config.OTP.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := f.otpService.Cleanup(ctx); err != nil {
				util.Error("Challenge cleanup failed", util.ErrorField(err))
			}
			f.limiter.Sweep()
		}
	}
}

// Close shuts dependencies down in reverse order of initialization.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.chRecorder != nil {
			f.chRecorder.Close()
		}
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		util.Info("Factory closed")
		util.Sync()
	})
}
