// Package bootstrap assembles the storefront client from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	"github.com/example/ec-storefront/internal/account"
	"github.com/example/ec-storefront/internal/activity"
	"github.com/example/ec-storefront/internal/cart"
	"github.com/example/ec-storefront/internal/config"
	"github.com/example/ec-storefront/internal/gateway"
	"github.com/example/ec-storefront/internal/infrastructure/kafka"
	"github.com/example/ec-storefront/internal/infrastructure/rabbitmq"
	"github.com/example/ec-storefront/internal/infrastructure/store"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/promo"
	"github.com/example/ec-storefront/internal/session"
)

// App holds the wired client components. Close releases whatever the session
// store and activity publisher opened.
type App struct {
	Config   config.Config
	Log      *slog.Logger
	Sessions *session.Manager
	API      *gateway.Client
	Cart     *cart.Synchronizer
	Promo    *promo.Machine
	Account  *account.Service

	publisher activity.Publisher
	closers   []func() error
	stopWatch context.CancelFunc
}

// New builds the client stack: store -> session manager -> gateway -> cart ->
// promo -> account. The cart follows identity transitions until Close.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logging.Init(cfg.App.Name, cfg.Log.File, cfg.Log.Level)
	app := &App{Config: cfg, Log: log}

	kv, err := app.openStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	sessions, err := session.NewManager(ctx, kv, session.WithLogger(logging.New("session")))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	app.Sessions = sessions

	opts := []gateway.Option{
		gateway.WithTimeout(cfg.API.Timeout),
		gateway.WithLogger(logging.New("gateway")),
	}
	if cfg.API.CSRF {
		opts = append(opts, gateway.WithCSRF(cfg.API.CSRFPath))
	}
	if cfg.API.Breaker.Enabled {
		opts = append(opts, gateway.WithBreaker(cfg.API.Breaker.MaxFailures, cfg.API.Breaker.OpenTimeout))
	}
	client, err := gateway.New(cfg.API.BaseURL, sessions, opts...)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}
	app.API = client

	publisher, err := app.openPublisher()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.publisher = publisher

	app.Cart = cart.NewSynchronizer(client, sessions,
		cart.WithPublisher(publisher),
		cart.WithAssetBaseURL(cfg.API.AssetBaseURL),
		cart.WithLogger(logging.New("cart")),
	)
	app.Promo = promo.NewMachine(app.Cart,
		promo.WithDisplayTimeout(cfg.Promo.DisplayTimeout),
		promo.WithLogger(logging.New("promo")),
	)
	bridge := account.NewBridge(app.Cart, logging.New("bridge"))
	app.Account = account.NewService(client, sessions, bridge, logging.New("account"))

	watchCtx, cancel := context.WithCancel(context.Background())
	transitions, unsubscribe := sessions.Subscribe()
	app.stopWatch = func() {
		cancel()
		unsubscribe()
	}
	go app.Cart.Watch(watchCtx, transitions)

	log.Debug("storefront client ready",
		"api", cfg.API.BaseURL,
		"session_driver", cfg.Session.Driver,
		"activity_driver", cfg.Activity.Driver,
		"identity", sessions.Current().Kind().String(),
	)
	return app, nil
}

func (a *App) openStore(ctx context.Context) (store.KeyValueStore, error) {
	s := a.Config.Session
	switch s.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "file":
		return store.NewFileStore(s.FilePath, s.Namespace), nil
	case "postgres":
		db, err := store.ConnectPostgres(s.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return postgresStore(ctx, db, s.Namespace)
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store.NewRedisStore(rdb, s.Namespace, s.RedisTTL), nil
	case "dynamodb":
		client, err := dynamoClient(ctx, s.DynamoRegion, s.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		return store.NewDynamoStore(client, s.DynamoTable, s.Namespace), nil
	}
	return nil, fmt.Errorf("unknown session driver %q", s.Driver)
}

func postgresStore(ctx context.Context, db *sql.DB, namespace string) (store.KeyValueStore, error) {
	ps := store.NewPostgresStore(db, namespace)
	if err := ps.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to create session table: %w", err)
	}
	return ps, nil
}

func dynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (a *App) openPublisher() (activity.Publisher, error) {
	act := a.Config.Activity
	switch act.Driver {
	case "kafka":
		return activity.NewKafkaPublisher(kafka.NewProducer(act.Brokers, act.Topic)), nil
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(act.RabbitURL, act.Exchange, act.RoutingKey)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		return activity.NewRabbitPublisher(p), nil
	case "log":
		return activity.NewLogPublisher(logging.New("activity")), nil
	}
	return activity.NopPublisher{}, nil
}

// Close stops the identity watcher and releases connections. Safe to call on
// a partially built App.
func (a *App) Close() error {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.Promo != nil {
		a.Promo.Stop()
	}
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close activity publisher: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
