// Package storage holds the AWS-backed stores: webhook metrics in DynamoDB
// and the dead-letter archive of exhausted retry tickets in S3.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/engagement-webhooks/internal/config"
	"github.com/ignite/engagement-webhooks/internal/domain"
)

// DynamoDBAPI is the subset of the DynamoDB client used here.
type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// AWSStorage provides AWS-backed storage using DynamoDB and S3
type AWSStorage struct {
	dynamoDB  DynamoDBAPI
	s3Client  S3API
	tableName string
	bucket    string
	prefix    string
	now       func() time.Time
}

// metricsItem is one (day, webhook type) counter row. PK is the day so a
// single Query returns every source for it.
type metricsItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	WebhookType string `dynamodbav:"WebhookType"`
	Day         string `dynamodbav:"Day"`
	Received    int    `dynamodbav:"Received"`
	Processed   int    `dynamodbav:"Processed"`
	Skipped     int    `dynamodbav:"Skipped"`
	Failed      int    `dynamodbav:"Failed"`
}

type metricsKey struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
}

const metricsTTL = 400 * 24 * time.Hour

// LoadAWSConfig builds the shared SDK config. A named profile is used when
// set; static keys and a custom endpoint are for local stacks.
func LoadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if profile := c.GetProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if c.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(c.Endpoint)
	}
	return cfg, nil
}

// NewAWSStorage creates a new AWS storage instance. Either the table or the
// bucket may be empty when that half is not in use.
func NewAWSStorage(cfg aws.Config, tableName, bucket, prefix string) *AWSStorage {
	return &AWSStorage{
		dynamoDB: dynamodb.NewFromConfig(cfg),
		s3Client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			// Local S3 emulators only serve path-style requests.
			o.UsePathStyle = cfg.BaseEndpoint != nil
		}),
		tableName: tableName,
		bucket:    bucket,
		prefix:    prefix,
		now:       time.Now,
	}
}

// NewAWSStorageWithClients is used by tests and callers that build their own
// clients.
func NewAWSStorageWithClients(db DynamoDBAPI, s3c S3API, tableName, bucket, prefix string) *AWSStorage {
	return &AWSStorage{dynamoDB: db, s3Client: s3c, tableName: tableName, bucket: bucket, prefix: prefix, now: time.Now}
}

// RecordMetrics adds m's counters to the day's item with an atomic ADD, so
// concurrent deliveries never lose increments.
func (s *AWSStorage) RecordMetrics(ctx context.Context, m domain.WebhookMetrics) error {
	key, err := attributevalue.MarshalMap(metricsKey{
		PK: "DAY#" + m.DayKey(),
		SK: "WEBHOOK#" + m.WebhookType,
	})
	if err != nil {
		return fmt.Errorf("marshaling metrics key: %w", err)
	}

	_, err = s.dynamoDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              key,
		UpdateExpression: aws.String("SET WebhookType = :t, #day = :d, UpdatedAt = :u, #ttl = if_not_exists(#ttl, :ttl) ADD Received :r, Processed :p, Skipped :s, Failed :f"),
		ExpressionAttributeNames: map[string]string{
			"#day": "Day",
			"#ttl": "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":   &types.AttributeValueMemberS{Value: m.WebhookType},
			":d":   &types.AttributeValueMemberS{Value: m.DayKey()},
			":u":   &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339)},
			":ttl": numberAttr(int(m.Day.Add(metricsTTL).Unix())),
			":r":   numberAttr(m.Received),
			":p":   numberAttr(m.Processed),
			":s":   numberAttr(m.Skipped),
			":f":   numberAttr(m.Failed),
		},
	})
	if err != nil {
		return fmt.Errorf("updating metrics item in DynamoDB: %w", err)
	}
	return nil
}

// GetMetrics returns every source's counters for one UTC day.
func (s *AWSStorage) GetMetrics(ctx context.Context, day time.Time) ([]domain.WebhookMetrics, error) {
	dayKey := day.UTC().Format(domain.DayLayout)
	result, err := s.dynamoDB.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: "DAY#" + dayKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying DynamoDB: %w", err)
	}

	var items []metricsItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshaling metrics items: %w", err)
	}

	out := make([]domain.WebhookMetrics, 0, len(items))
	for _, it := range items {
		d, err := time.Parse(domain.DayLayout, it.Day)
		if err != nil {
			continue
		}
		out = append(out, domain.WebhookMetrics{
			WebhookType: it.WebhookType,
			Day:         d,
			Received:    it.Received,
			Processed:   it.Processed,
			Skipped:     it.Skipped,
			Failed:      it.Failed,
		})
	}
	return out, nil
}

// ArchiveTicket writes a dead-lettered retry ticket to S3 and returns its
// key: <prefix>/<webhook type>/YYYY/MM/DD/<ticket id>.json.
func (s *AWSStorage) ArchiveTicket(ctx context.Context, t *domain.RetryTicket) (string, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling retry ticket: %w", err)
	}

	key := path.Join(s.prefix, t.WebhookType, s.now().UTC().Format("2006/01/02"), t.ID+".json")
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3: %w", err)
	}
	return key, nil
}

// PingS3 checks that the archive bucket is reachable.
func (s *AWSStorage) PingS3(ctx context.Context) error {
	_, err := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

func numberAttr(n int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}
