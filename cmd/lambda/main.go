package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	fiberadapter "github.com/awslabs/aws-lambda-go-api-proxy/fiber"
	"github.com/sirupsen/logrus"

	_ "github.com/mindgallery/gallery-api/docs" // Swagger docs
	"github.com/mindgallery/gallery-api/internal/config"
	"github.com/mindgallery/gallery-api/internal/logging"
	"github.com/mindgallery/gallery-api/internal/server"
)

// The same application behind API Gateway. Everything is built once per
// cold start and reused across invocations.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg)

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize server")
	}

	adapter := fiberadapter.New(srv.App)
	coldStart := true

	logger.Info("Starting MindGallery API lambda handler")
	lambda.Start(func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		resp, err := adapter.ProxyWithContextV2(ctx, req)
		if coldStart {
			if resp.Headers == nil {
				resp.Headers = make(map[string]string)
			}
			resp.Headers["X-Cold-Start"] = "true"
			coldStart = false
		}
		return resp, err
	})
}
