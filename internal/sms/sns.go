package sms

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/allyourbase/ayb-twilio/internal/phone"
	"github.com/allyourbase/ayb-twilio/internal/twilio"
)

// SNSPublisher abstracts the AWS SNS Publish call for testability.
type SNSPublisher interface {
	Publish(ctx context.Context, phoneNumber, message string) (messageID string, err error)
}

// SNSProvider sends SMS via AWS SNS. Numbers go through the same normalizer
// as the Twilio client so both providers accept identical input.
type SNSProvider struct {
	publisher SNSPublisher
	phone     phone.Normalizer
}

// NewSNSProvider creates an SNSProvider with the given publisher.
func NewSNSProvider(publisher SNSPublisher, normalizer phone.Normalizer) *SNSProvider {
	return &SNSProvider{publisher: publisher, phone: normalizer}
}

func (p *SNSProvider) Send(ctx context.Context, to, body string) (*SendResult, error) {
	num, err := p.phone.Normalize(to)
	if err != nil {
		return nil, phone.WithField(err, "To")
	}
	if body == "" {
		return nil, fmt.Errorf("sns: %w", twilio.ErrBodyEmpty)
	}
	if n := utf8.RuneCountInString(body); n > twilio.MaxBodyLength {
		return nil, fmt.Errorf("sns: %w (%d > %d characters)", twilio.ErrBodyTooLong, n, twilio.MaxBodyLength)
	}

	messageID, err := p.publisher.Publish(ctx, num.E164(), body)
	if err != nil {
		return nil, fmt.Errorf("sns: publish: %w", err)
	}

	return &SendResult{
		MessageID: messageID,
		Status:    "sent",
		To:        num.E164(),
	}, nil
}

// AWSPublisher wraps the AWS SNS client to implement SNSPublisher.
type AWSPublisher struct {
	client *sns.Client
}

// NewAWSPublisher loads the default AWS credential chain for region.
func NewAWSPublisher(ctx context.Context, region string) (*AWSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &AWSPublisher{client: sns.NewFromConfig(cfg)}, nil
}

func (a *AWSPublisher) Publish(ctx context.Context, phoneNumber, message string) (string, error) {
	out, err := a.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phoneNumber),
		Message:     aws.String(message),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}
