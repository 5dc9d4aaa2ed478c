package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example/mockup-billing/app/reconcile"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AlertMessage is the SQS body for a reconciliation alert.
type AlertMessage struct {
	ID         string          `json:"id"`
	OccurredAt time.Time       `json:"occurredAt"`
	Alert      reconcile.Alert `json:"alert"`
}

// SQSAlerter publishes alerts to a queue consumed by the operator tooling.
type SQSAlerter struct {
	client   sqsAPI
	queueURL string
	now      func() time.Time
}

func NewSQSAlerter(ctx context.Context, queueURL string) (*SQSAlerter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSQSAlerter(sqs.NewFromConfig(awsCfg), queueURL), nil
}

func newSQSAlerter(client sqsAPI, queueURL string) *SQSAlerter {
	return &SQSAlerter{client: client, queueURL: queueURL, now: time.Now}
}

func (a *SQSAlerter) Publish(ctx context.Context, alert reconcile.Alert) error {
	msg := AlertMessage{
		ID:         uuid.NewString(),
		OccurredAt: a.now().UTC(),
		Alert:      alert,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = a.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(a.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind":     {DataType: aws.String("String"), StringValue: aws.String(string(alert.Kind))},
			"provider": {DataType: aws.String("String"), StringValue: aws.String(string(alert.Provider))},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// LogAlerter writes alerts to the log when no queue is configured.
type LogAlerter struct {
	log *zap.Logger
}

func NewLogAlerter(log *zap.Logger) *LogAlerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogAlerter{log: log}
}

func (a *LogAlerter) Publish(_ context.Context, alert reconcile.Alert) error {
	a.log.Warn("reconciliation alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("provider", string(alert.Provider)),
		zap.String("reference", alert.Reference),
		zap.String("message", alert.Message),
		zap.Any("fields", alert.Fields))
	return nil
}
