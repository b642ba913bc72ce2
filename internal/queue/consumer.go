package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/northcell/conversation-cdc/internal/service/ingest"
)

// Consumer long-polls one queue. It satisfies ingest.Receiver.
type Consumer struct {
	client            *sqs.Client
	queueURL          string
	waitSeconds       int32
	visibilitySeconds int32
}

func NewConsumer(client *sqs.Client, queueURL string, waitSeconds, visibilitySeconds int) *Consumer {
	return &Consumer{
		client:            client,
		queueURL:          queueURL,
		waitSeconds:       int32(waitSeconds),
		visibilitySeconds: int32(visibilitySeconds),
	}
}

// Receive long-polls for up to max messages. SQS caps one receive at ten.
func (c *Consumer) Receive(ctx context.Context, max int) ([]ingest.Message, error) {
	if max <= 0 || max > 10 {
		max = 10
	}

	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(c.queueURL),
		MaxNumberOfMessages:   int32(max),
		WaitTimeSeconds:       c.waitSeconds,
		VisibilityTimeout:     c.visibilitySeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	msgs := make([]ingest.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := ingest.Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
		if len(m.MessageAttributes) > 0 {
			msg.Attributes = make(map[string]string, len(m.MessageAttributes))
			for k, v := range m.MessageAttributes {
				msg.Attributes[k] = aws.ToString(v.StringValue)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Delete removes a message from the queue.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Drain receives and deletes everything currently visible on the queue and
// returns the number of messages removed. Short poll so an empty queue
// terminates quickly.
func (c *Consumer) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     1,
		})
		if err != nil {
			return total, fmt.Errorf("receive messages: %w", err)
		}
		if len(out.Messages) == 0 {
			return total, nil
		}
		for _, m := range out.Messages {
			if err := c.Delete(ctx, aws.ToString(m.ReceiptHandle)); err != nil {
				return total, err
			}
			total++
		}
	}
}
