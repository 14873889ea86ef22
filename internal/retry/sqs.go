// Package retry carries webhook retry tickets over Amazon SQS: SQSQueue
// enqueues aborted deliveries and SQSConsumer replays them.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// maxSQSDelay is the largest DelaySeconds SQS accepts.
const maxSQSDelay = 15 * time.Minute

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue publishes retry tickets as JSON messages.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	now      func() time.Time
}

// NewSQSQueue creates a queue publisher for the given queue URL.
func NewSQSQueue(client SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, now: time.Now}
}

// Enqueue sends the ticket, delayed until NextAttemptAt (capped at the SQS
// maximum of 15 minutes). It assigns an ID when the ticket has none.
func (q *SQSQueue) Enqueue(ctx context.Context, t *domain.RetryTicket) (string, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = domain.RetryPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = q.now()
	}
	if err := q.send(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

func (q *SQSQueue) send(ctx context.Context, t *domain.RetryTicket) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal retry ticket: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds(t.NextAttemptAt.Sub(q.now())),
	})
	if err != nil {
		return fmt.Errorf("send retry ticket %s: %w", t.ID, err)
	}
	return nil
}

func delaySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > maxSQSDelay {
		d = maxSQSDelay
	}
	return int32(d / time.Second)
}
