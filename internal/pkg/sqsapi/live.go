package sqsapi

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pkg/errors"
)

const (
	// 20s is the SQS long-poll ceiling
	defaultWaitSeconds = 20
	defaultMaxMessages = 10
)

// Live is the SQS implementation of Queue
type Live struct {
	client      *sqs.Client
	queueURL    string
	waitSeconds int32
	maxMessages int32
}

func NewLiveQueue(ctx context.Context, queueURL, accessKey, secretKey, region string) (*Live, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "initialising the AWS config")
	}

	return &Live{
		client:      sqs.NewFromConfig(cfg),
		queueURL:    queueURL,
		waitSeconds: defaultWaitSeconds,
		maxMessages: defaultMaxMessages,
	}, nil
}

func (q *Live) WithWaitSeconds(s int32) *Live {
	nq := *q
	nq.waitSeconds = s
	return &nq
}

// Receive long-polls the queue for a batch of messages
func (q *Live) Receive(ctx context.Context) ([]Message, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: q.maxMessages,
		WaitTimeSeconds:     q.waitSeconds,
	})
	if err != nil {
		return nil, errors.Wrap(err, "receiving queue messages")
	}

	messages := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		messages = append(messages, Message{
			Body:    []byte(aws.ToString(m.Body)),
			Receipt: aws.ToString(m.ReceiptHandle),
		})
	}

	return messages, nil
}

// Delete acknowledges one message by receipt handle
func (q *Live) Delete(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return errors.Wrap(err, "deleting queue message")
	}

	return nil
}
