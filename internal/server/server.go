package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"

	"github.com/mindgallery/gallery-api/internal/auth"
	"github.com/mindgallery/gallery-api/internal/config"
	"github.com/mindgallery/gallery-api/internal/metrics"
	"github.com/mindgallery/gallery-api/internal/middleware"
	"github.com/mindgallery/gallery-api/internal/objects"
	"github.com/mindgallery/gallery-api/internal/routes"
	"github.com/mindgallery/gallery-api/internal/services"
	"github.com/mindgallery/gallery-api/internal/store"
)

// probeKey is read by the readiness check; a miss still proves the table answers
var probeKey = store.Key{PK: "HEALTH#probe", SK: "PROBE"}

// Server is the assembled HTTP application
type Server struct {
	App        *fiber.App
	Config     *config.Config
	Logger     *logrus.Logger
	Middleware *middleware.Manager

	closers []func(context.Context) error
}

// New builds the server from configuration: AWS clients, stores, Redis and tracing
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	if err := metrics.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	tracingShutdown, err := middleware.InitTracing(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}

	var awsCfg aws.Config
	if cfg.DynamoDB.Driver != "memory" || cfg.Objects.Driver == "s3" {
		if awsCfg, err = loadAWSConfig(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	st, err := newTableStore(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	objs, err := newObjectStore(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	tokens := newTokens(cfg)
	mw, err := middleware.NewManager(cfg, tokens, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize middleware manager: %w", err)
	}

	srv := NewWithDependencies(cfg, logger, st, objs, tokens, mw)
	srv.closers = append(srv.closers, tracingShutdown)
	return srv, nil
}

// NewWithDependencies assembles the application around already constructed stores
func NewWithDependencies(cfg *config.Config, logger *logrus.Logger, st store.Store, objs objects.Store, tokens *auth.Tokens, mw *middleware.Manager) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "MindGallery API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: routes.ErrorHandler(cfg.Server.IsDevelopment()),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With,Idempotency-Key,X-CSRF-Token",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(otelfiber.Middleware())
	if cfg.Server.IsDevelopment() {
		// pprof for memory profiling (accessible at /debug/pprof/)
		app.Use(pprof.New())
	}
	app.Use(mw.ErrorLogger.Handle())

	presignTTL := cfg.Objects.PresignTTL
	routes.Setup(app, routes.Dependencies{
		Config:     cfg,
		Logger:     logger,
		Middleware: mw,
		Tokens:     tokens,
		Identity:   services.NewIdentity(st, tokens, logger),
		Gallery:    services.NewGallery(st, objs, presignTTL, logger),
		Comments:   services.NewComments(st, logger),
		Likes:      services.NewLikes(st, logger),
		Uploads:    services.NewUploads(objs, presignTTL, logger),
		Checks: []routes.ReadinessCheck{
			{Name: "dynamodb", Check: tableCheck(st)},
			{Name: "objects", Check: objs.Ping},
			{Name: "redis", Check: mw.RedisReady},
		},
	})

	return &Server{
		App:        app,
		Config:     cfg,
		Logger:     logger,
		Middleware: mw,
		closers:    []func(context.Context) error{func(context.Context) error { return mw.Close() }},
	}
}

// Listen serves on the configured port until Shutdown
func (s *Server) Listen() error {
	s.Logger.WithField("port", s.Config.Server.Port).Info("Starting MindGallery API server")
	return s.App.Listen(":" + s.Config.Server.Port)
}

// Shutdown drains in-flight requests, then releases Redis and flushes traces
func (s *Server) Shutdown(ctx context.Context) error {
	errs := []error{s.App.ShutdownWithContext(ctx)}
	for _, closer := range s.closers {
		errs = append(errs, closer(ctx))
	}
	return errors.Join(errs...)
}

func tableCheck(st store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		var out struct{}
		if err := st.Get(ctx, probeKey, &out); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	}
}

func newTokens(cfg *config.Config) *auth.Tokens {
	return auth.NewTokens(auth.TokenConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
	})
}

func loadAWSConfig(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if cfg.AWS.Profile != "" {
		// Use specific profile for local development
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Log credentials provider info for debugging
	creds, credErr := awsCfg.Credentials.Retrieve(ctx)
	if credErr != nil {
		logger.WithError(credErr).Warn("Failed to retrieve credentials (will retry on first API call)")
	} else {
		logger.WithFields(logrus.Fields{
			"provider":          creds.Source,
			"has_session_token": creds.SessionToken != "",
			"region":            cfg.AWS.Region,
		}).Debug("AWS credentials retrieved")
	}
	return awsCfg, nil
}

func newTableStore(cfg *config.Config, awsCfg aws.Config, logger *logrus.Logger) (store.Store, error) {
	if cfg.DynamoDB.Driver == "memory" {
		logger.Warn("Using the in-memory table store; data is lost on restart")
		return store.NewInstrumented(store.NewMemory(), "memory"), nil
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Region != "" {
			o.Region = cfg.DynamoDB.Region
		}
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	logger.WithFields(logrus.Fields{
		"region":     cfg.DynamoDB.Region,
		"table_name": cfg.DynamoDB.TableName,
	}).Info("DynamoDB client initialized")
	return store.NewInstrumented(store.NewDynamo(client, cfg.DynamoDB.TableName, logger), "dynamodb"), nil
}

func newObjectStore(cfg *config.Config, awsCfg aws.Config, logger *logrus.Logger) (objects.Store, error) {
	bucket := cfg.Objects.Bucket
	var next objects.Store
	switch cfg.Objects.Driver {
	case "memory":
		logger.Warn("Using the in-memory object store; presigned URLs are not reachable")
		next = objects.NewMemory(bucket)
	case "minio":
		m, err := objects.NewMinio(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, bucket, cfg.Minio.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
		next = m
	default:
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				o.UsePathStyle = true
			}
		})
		next = objects.NewS3(client, bucket)
	}

	logger.WithFields(logrus.Fields{
		"driver": cfg.Objects.Driver,
		"bucket": bucket,
	}).Info("Object store initialized")
	return objects.NewInstrumented(next), nil
}
