package main

import (
	"context"
	"log"

	"example/mockup-billing/app"
	"example/mockup-billing/app/config"
	"example/mockup-billing/app/logging"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
)

var ginLambda *ginadapter.GinLambda

// init runs once per Lambda container (cold start). The store connection
// is reused across invocations, so the cleanup func is never called.
func init() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.IsDevelopment(), cfg.Logs.Style, cfg.Logs.Level)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	router, _, err := app.Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize router: %v", err)
	}
	ginLambda = ginadapter.New(router)
}

// Handler is the Lambda entrypoint for API Gateway REST/HTTP API (proxy integration)
func Handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return ginLambda.ProxyWithContext(ctx, req)
}

func main() {
	lambda.Start(Handler)
}
