package retry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
)

const (
	receiveBatch   = 10
	receiveWait    = 20
	receiveBackoff = 5 * time.Second

	// dueSlack absorbs the whole-second rounding of DelaySeconds.
	dueSlack = time.Second
)

// SQSConsumer long-polls the retry queue and replays each ticket. Failed
// replays are re-sent with a backoff delay; exhausted tickets are archived
// and dropped.
type SQSConsumer struct {
	queue    *SQSQueue
	replayer Replayer
	archiver Archiver
	policy   Policy

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSQSConsumer creates a consumer. archiver may be nil.
func NewSQSConsumer(queue *SQSQueue, replayer Replayer, archiver Archiver, policy Policy) *SQSConsumer {
	return &SQSConsumer{
		queue:    queue,
		replayer: replayer,
		archiver: archiver,
		policy:   policy,
		done:     make(chan struct{}),
	}
}

// Start begins polling in the background.
func (c *SQSConsumer) Start(ctx context.Context) {
	logger.Info("[RetryConsumer] starting", "queue_url", c.queue.queueURL)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poll(ctx)
	}()
}

// Stop signals the poll loop to exit and waits for the in-flight batch.
func (c *SQSConsumer) Stop() {
	close(c.done)
	c.wg.Wait()
	logger.Info("[RetryConsumer] stopped")
}

func (c *SQSConsumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.queue.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queue.queueURL),
			MaxNumberOfMessages: receiveBatch,
			WaitTimeSeconds:     receiveWait,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("[RetryConsumer] receive failed", "error", err.Error())
			select {
			case <-time.After(receiveBackoff):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
			continue
		}

		for _, msg := range out.Messages {
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage replays one ticket. A ticket received before its
// NextAttemptAt (backoff beyond the SQS delay cap) is re-sent with the
// remaining delay. The message is deleted once the ticket has been handled
// or re-sent; a failed re-send leaves it for SQS to redeliver.
func (c *SQSConsumer) handleMessage(ctx context.Context, msg types.Message) {
	var t domain.RetryTicket
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &t); err != nil {
		logger.Error("[RetryConsumer] dropping unreadable message",
			"message_id", aws.ToString(msg.MessageId), "error", err.Error())
		c.delete(ctx, msg)
		return
	}

	if wait := t.NextAttemptAt.Sub(c.queue.now()); wait >= dueSlack {
		if err := c.queue.send(ctx, &t); err != nil {
			logger.Error("[RetryConsumer] deferral re-send failed", "ticket_id", t.ID, "error", err.Error())
			return
		}
		logger.Debug("[RetryConsumer] ticket not yet due, deferred",
			"ticket_id", t.ID, "next_attempt_at", t.NextAttemptAt.Format(time.RFC3339))
		c.delete(ctx, msg)
		return
	}

	res, err := c.replayer.Replay(ctx, &t)
	if err == nil {
		logger.Info("[RetryConsumer] replayed ticket",
			"ticket_id", t.ID, "processed", res.Processed, "skipped", res.Skipped, "errors", res.Errors)
		c.delete(ctx, msg)
		return
	}

	t.Attempts++
	t.Error = err.Error()
	t.UpdatedAt = c.queue.now()

	if c.policy.Exhausted(t.Attempts, err) {
		t.Status = domain.RetryDeadLetter
		c.archive(ctx, &t)
		c.delete(ctx, msg)
		return
	}

	t.Status = domain.RetryPending
	t.NextAttemptAt = t.UpdatedAt.Add(c.policy.Backoff.Delay(t.Attempts + 1))
	if sendErr := c.queue.send(ctx, &t); sendErr != nil {
		logger.Error("[RetryConsumer] re-send failed", "ticket_id", t.ID, "error", sendErr.Error())
		return
	}
	logger.Warn("[RetryConsumer] replay failed, rescheduled",
		"ticket_id", t.ID, "attempts", t.Attempts, "next_attempt_at", t.NextAttemptAt.Format(time.RFC3339), "error", t.Error)
	c.delete(ctx, msg)
}

func (c *SQSConsumer) archive(ctx context.Context, t *domain.RetryTicket) {
	logger.Error("[RetryConsumer] ticket dead-lettered",
		"ticket_id", t.ID, "attempts", t.Attempts, "error", t.Error)
	if c.archiver == nil {
		return
	}
	key, err := c.archiver.ArchiveTicket(ctx, t)
	if err != nil {
		logger.Error("[RetryConsumer] archive failed", "ticket_id", t.ID, "error", err.Error())
		return
	}
	logger.Info("[RetryConsumer] ticket archived", "ticket_id", t.ID, "key", key)
}

func (c *SQSConsumer) delete(ctx context.Context, msg types.Message) {
	_, err := c.queue.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queue.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Error("[RetryConsumer] delete failed",
			"message_id", aws.ToString(msg.MessageId), "error", err.Error())
	}
}
