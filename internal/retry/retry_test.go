package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/backoff"
	"github.com/ignite/engagement-webhooks/internal/sendgrid"
	"github.com/ignite/engagement-webhooks/internal/service/webhook"
)

var testNow = time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)

type fakeSQS struct {
	mu       sync.Mutex
	sent     []*sqs.SendMessageInput
	deleted  []string
	inbox    [][]types.Message
	sendErr  error
	received int
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String(fmt.Sprintf("m-%d", len(f.sent)))}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	f.received++
	if len(f.inbox) > 0 {
		batch := f.inbox[0]
		f.inbox = f.inbox[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeReplayer struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (r *fakeReplayer) Replay(_ context.Context, t *domain.RetryTicket) (webhook.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, t.ID)
	if r.err != nil {
		return webhook.BatchResult{}, r.err
	}
	return webhook.BatchResult{Received: 2, Processed: 2}, nil
}

type fakeArchiver struct {
	archived []domain.RetryTicket
}

func (a *fakeArchiver) ArchiveTicket(_ context.Context, t *domain.RetryTicket) (string, error) {
	a.archived = append(a.archived, *t)
	return "webhook-dead-letter/" + t.ID + ".json", nil
}

func newQueue(client SQSAPI) *SQSQueue {
	q := NewSQSQueue(client, "https://sqs.us-west-2.amazonaws.com/123/webhook-retries")
	q.now = func() time.Time { return testNow }
	return q
}

func ticketMessage(t *testing.T, ticket domain.RetryTicket, handle string) types.Message {
	t.Helper()
	body, err := json.Marshal(ticket)
	require.NoError(t, err)
	return types.Message{
		MessageId:     aws.String("msg-" + handle),
		ReceiptHandle: aws.String(handle),
		Body:          aws.String(string(body)),
	}
}

func fixedPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff.Policy{Base: 30 * time.Second, Max: time.Hour, Rand: func() float64 { return 1 }},
	}
}

func TestSQSQueue_Enqueue(t *testing.T) {
	client := &fakeSQS{}
	q := newQueue(client)

	ticket := &domain.RetryTicket{
		WebhookType:   "sendgrid",
		Payload:       json.RawMessage(`[{"event":"delivered"}]`),
		NextAttemptAt: testNow.Add(45 * time.Second),
	}
	id, err := q.Enqueue(context.Background(), ticket)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, ticket.ID)

	require.Len(t, client.sent, 1)
	in := client.sent[0]
	assert.Equal(t, int32(45), in.DelaySeconds)
	assert.Equal(t, "https://sqs.us-west-2.amazonaws.com/123/webhook-retries", aws.ToString(in.QueueUrl))

	var got domain.RetryTicket
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, domain.RetryPending, got.Status)
	assert.Equal(t, testNow, got.CreatedAt)
	assert.JSONEq(t, `[{"event":"delivered"}]`, string(got.Payload))
}

func TestSQSQueue_EnqueueError(t *testing.T) {
	q := newQueue(&fakeSQS{sendErr: errors.New("throttled")})
	_, err := q.Enqueue(context.Background(), &domain.RetryTicket{ID: "t-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "t-1")
}

func TestDelaySeconds(t *testing.T) {
	assert.Equal(t, int32(0), delaySeconds(-time.Minute))
	assert.Equal(t, int32(0), delaySeconds(0))
	assert.Equal(t, int32(90), delaySeconds(90*time.Second))
	assert.Equal(t, int32(900), delaySeconds(time.Hour))
}

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	failure := errors.New("db down")
	assert.False(t, p.Exhausted(2, failure))
	assert.True(t, p.Exhausted(3, failure))
	assert.True(t, p.Exhausted(1, fmt.Errorf("replay t: %w", sendgrid.ErrMalformedPayload)))

	assert.False(t, Policy{}.Exhausted(DefaultMaxAttempts-1, failure))
	assert.True(t, Policy{}.Exhausted(DefaultMaxAttempts, failure))
}

func TestConsumer_SuccessDeletesMessage(t *testing.T) {
	client := &fakeSQS{}
	replayer := &fakeReplayer{}
	c := NewSQSConsumer(newQueue(client), replayer, nil, fixedPolicy(5))

	c.handleMessage(context.Background(), ticketMessage(t, domain.RetryTicket{ID: "t-1"}, "h-1"))

	assert.Equal(t, []string{"t-1"}, replayer.calls)
	assert.Equal(t, []string{"h-1"}, client.deletedHandles())
	assert.Empty(t, client.sent)
}

func TestConsumer_FailureReschedules(t *testing.T) {
	client := &fakeSQS{}
	replayer := &fakeReplayer{err: webhook.ErrBatchAborted}
	archiver := &fakeArchiver{}
	c := NewSQSConsumer(newQueue(client), replayer, archiver, fixedPolicy(5))

	c.handleMessage(context.Background(), ticketMessage(t, domain.RetryTicket{ID: "t-1", Attempts: 1}, "h-1"))

	require.Len(t, client.sent, 1)
	var got domain.RetryTicket
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.sent[0].MessageBody)), &got))
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, domain.RetryPending, got.Status)
	assert.Equal(t, webhook.ErrBatchAborted.Error(), got.Error)
	// Ceiling(3) = 120s with Rand pinned to 1.
	assert.Equal(t, testNow.Add(2*time.Minute), got.NextAttemptAt)
	assert.Equal(t, int32(120), client.sent[0].DelaySeconds)

	assert.Equal(t, []string{"h-1"}, client.deletedHandles())
	assert.Empty(t, archiver.archived)
}

func TestConsumer_ExhaustedArchives(t *testing.T) {
	client := &fakeSQS{}
	replayer := &fakeReplayer{err: errors.New("still failing")}
	archiver := &fakeArchiver{}
	c := NewSQSConsumer(newQueue(client), replayer, archiver, fixedPolicy(3))

	c.handleMessage(context.Background(), ticketMessage(t, domain.RetryTicket{ID: "t-9", Attempts: 2}, "h-9"))

	require.Len(t, archiver.archived, 1)
	assert.Equal(t, domain.RetryDeadLetter, archiver.archived[0].Status)
	assert.Equal(t, 3, archiver.archived[0].Attempts)
	assert.Equal(t, "still failing", archiver.archived[0].Error)
	assert.Empty(t, client.sent)
	assert.Equal(t, []string{"h-9"}, client.deletedHandles())
}

func TestConsumer_MalformedPayloadDeadLettersImmediately(t *testing.T) {
	client := &fakeSQS{}
	replayer := &fakeReplayer{err: fmt.Errorf("replay t-2: %w", sendgrid.ErrMalformedPayload)}
	archiver := &fakeArchiver{}
	c := NewSQSConsumer(newQueue(client), replayer, archiver, fixedPolicy(5))

	c.handleMessage(context.Background(), ticketMessage(t, domain.RetryTicket{ID: "t-2"}, "h-2"))

	require.Len(t, archiver.archived, 1)
	assert.Equal(t, 1, archiver.archived[0].Attempts)
	assert.Empty(t, client.sent)
}

func TestConsumer_UnreadableMessageDropped(t *testing.T) {
	client := &fakeSQS{}
	replayer := &fakeReplayer{}
	c := NewSQSConsumer(newQueue(client), replayer, nil, fixedPolicy(5))

	c.handleMessage(context.Background(), types.Message{
		MessageId:     aws.String("bad"),
		ReceiptHandle: aws.String("h-bad"),
		Body:          aws.String("{not json"),
	})

	assert.Empty(t, replayer.calls)
	assert.Equal(t, []string{"h-bad"}, client.deletedHandles())
}

func TestConsumer_ResendFailureKeepsMessage(t *testing.T) {
	client := &fakeSQS{sendErr: errors.New("throttled")}
	replayer := &fakeReplayer{err: webhook.ErrBatchAborted}
	c := NewSQSConsumer(newQueue(client), replayer, nil, fixedPolicy(5))

	c.handleMessage(context.Background(), ticketMessage(t, domain.RetryTicket{ID: "t-3"}, "h-3"))

	assert.Empty(t, client.deletedHandles())
}

func TestConsumer_NotYetDueIsDeferred(t *testing.T) {
	client := &fakeSQS{}
	replayer := &fakeReplayer{}
	c := NewSQSConsumer(newQueue(client), replayer, nil, fixedPolicy(5))

	ticket := domain.RetryTicket{ID: "t-4", Attempts: 3, NextAttemptAt: testNow.Add(40 * time.Minute)}
	c.handleMessage(context.Background(), ticketMessage(t, ticket, "h-4"))

	assert.Empty(t, replayer.calls)
	require.Len(t, client.sent, 1)
	assert.Equal(t, int32(900), client.sent[0].DelaySeconds)

	var got domain.RetryTicket
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.sent[0].MessageBody)), &got))
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, ticket.NextAttemptAt, got.NextAttemptAt)
	assert.Equal(t, []string{"h-4"}, client.deletedHandles())

	// Received again 15 minutes later: still 25 minutes early.
	c.queue.now = func() time.Time { return testNow.Add(15 * time.Minute) }
	c.handleMessage(context.Background(), ticketMessage(t, got, "h-5"))
	assert.Empty(t, replayer.calls)
	require.Len(t, client.sent, 2)
	assert.Equal(t, int32(900), client.sent[1].DelaySeconds)

	// Within the rounding slack it replays.
	c.queue.now = func() time.Time { return testNow.Add(40*time.Minute - 500*time.Millisecond) }
	c.handleMessage(context.Background(), ticketMessage(t, got, "h-6"))
	assert.Equal(t, []string{"t-4"}, replayer.calls)
	assert.Len(t, client.sent, 2)
	assert.Equal(t, []string{"h-4", "h-5", "h-6"}, client.deletedHandles())
}

func TestConsumer_DeferralResendFailureKeepsMessage(t *testing.T) {
	client := &fakeSQS{sendErr: errors.New("throttled")}
	replayer := &fakeReplayer{}
	c := NewSQSConsumer(newQueue(client), replayer, nil, fixedPolicy(5))

	c.handleMessage(context.Background(), ticketMessage(t,
		domain.RetryTicket{ID: "t-5", NextAttemptAt: testNow.Add(time.Hour)}, "h-7"))

	assert.Empty(t, replayer.calls)
	assert.Empty(t, client.deletedHandles())
}

func TestConsumer_StartStop(t *testing.T) {
	client := &fakeSQS{}
	client.inbox = [][]types.Message{{
		ticketMessage(t, domain.RetryTicket{ID: "a"}, "h-a"),
		ticketMessage(t, domain.RetryTicket{ID: "b"}, "h-b"),
	}}
	replayer := &fakeReplayer{}
	c := NewSQSConsumer(newQueue(client), replayer, nil, fixedPolicy(5))

	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(client.deletedHandles()) == 2
	}, time.Second, 5*time.Millisecond)
	c.Stop()

	assert.ElementsMatch(t, []string{"h-a", "h-b"}, client.deletedHandles())
}
