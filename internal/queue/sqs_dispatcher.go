package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSAPI é o subconjunto do cliente SQS usado aqui.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type message struct {
	JobID string `json:"job_id"`
}

// SQSDispatcher distribui jobs entre réplicas. A entrega é at-least-once:
// mensagem sem Ack volta após o visibility timeout.
type SQSDispatcher struct {
	Client   SQSAPI
	QueueURL string
	// Visibility deve cobrir o timeout do job, senão outro worker recebe a
	// mesma mensagem enquanto o primeiro ainda roda.
	Visibility time.Duration
	WaitTime   time.Duration
	Log        *zap.Logger
}

func NewSQSDispatcher(client SQSAPI, queueURL string, jobTimeout time.Duration, log *zap.Logger) *SQSDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQSDispatcher{
		Client:     client,
		QueueURL:   queueURL,
		Visibility: jobTimeout + time.Minute,
		WaitTime:   20 * time.Second,
		Log:        log,
	}
}

func (d *SQSDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(message{JobID: jobID})
	if err != nil {
		return err
	}
	_, err = d.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// Receive faz long polling até chegar uma mensagem válida. Mensagens
// ilegíveis são apagadas para não voltarem indefinidamente.
func (d *SQSDispatcher) Receive(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		out, err := d.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(d.QueueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     int32(d.WaitTime / time.Second),
			VisibilityTimeout:   int32(d.Visibility / time.Second),
		})
		if err != nil {
			return Delivery{}, fmt.Errorf("sqs receive: %w", err)
		}
		for _, m := range out.Messages {
			var msg message
			if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil || msg.JobID == "" {
				d.Log.Warn("mensagem sqs inválida descartada", zap.String("message_id", aws.ToString(m.MessageId)))
				_ = d.delete(ctx, m.ReceiptHandle)
				continue
			}
			handle := m.ReceiptHandle
			return Delivery{
				JobID: msg.JobID,
				Ack:   func(ctx context.Context) error { return d.delete(ctx, handle) },
			}, nil
		}
	}
}

func (d *SQSDispatcher) delete(ctx context.Context, handle *string) error {
	_, err := d.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(d.QueueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

func (d *SQSDispatcher) Close() error { return nil }
