// Package main runs the DynamoDB Streams cascade handler as a Lambda
// function.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/abates/network-lab-runner/internal/config"
	"github.com/abates/network-lab-runner/store"
	"github.com/abates/network-lab-runner/stream"
)

type cascadeConfig struct {
	Dynamo store.Config `envPrefix:"DYNAMO_"`
}

func main() {
	cfg := cascadeConfig{Dynamo: store.DefaultConfig()}
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("cascade: %v", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		config.Exitf("cascade: load aws config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	s := store.New(dynamodb.NewFromConfig(awsCfg), cfg.Dynamo, nil, logger)
	lambda.Start(stream.NewHandler(s, logger).HandleCascadeDelete)
}
