package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/registrar/internal/models"
	pkglogger "github.com/BradenHooton/registrar/pkg/logger"
)

// SESClient is the part of the SES API the gateway calls
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotificationGateway delivers one-time codes by email through AWS SES
type SESNotificationGateway struct {
	client      SESClient
	fromAddress string
	ttl         time.Duration
	logger      *slog.Logger
}

// NewSESNotificationGateway loads the default AWS credential chain for region
func NewSESNotificationGateway(ctx context.Context, region, fromAddress string, ttl time.Duration, logger *slog.Logger) (*SESNotificationGateway, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESNotificationGatewayWithClient(ses.NewFromConfig(cfg), fromAddress, ttl, logger), nil
}

func NewSESNotificationGatewayWithClient(client SESClient, fromAddress string, ttl time.Duration, logger *slog.Logger) *SESNotificationGateway {
	return &SESNotificationGateway{
		client:      client,
		fromAddress: fromAddress,
		ttl:         ttl,
		logger:      logger,
	}
}

// Send mails a plain-text message carrying code
func (g *SESNotificationGateway) Send(ctx context.Context, email, displayName, code, purpose string) error {
	subject, body := g.message(displayName, code, purpose)

	input := &ses.SendEmailInput{
		Source: aws.String(g.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	result, err := g.client.SendEmail(ctx, input)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to send code via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	g.logger.InfoContext(ctx, "code email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("purpose", purpose),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

func (g *SESNotificationGateway) message(displayName, code, purpose string) (string, string) {
	subject := "Your sign-in code"
	action := "finish signing in"
	if purpose == models.OTPPurposePasswordReset {
		subject = "Your password reset code"
		action = "reset your password"
	}

	body := fmt.Sprintf(`Hello %s,

Use the code below to %s:

    %s

The code expires in %d minutes and can only be used once.
If you did not request it, you can ignore this email.
`, displayName, action, code, int(g.ttl.Minutes()))

	return subject, body
}

// LogNotificationGateway writes codes to the log instead of sending them.
// Only for local development.
type LogNotificationGateway struct {
	logger *slog.Logger
}

func NewLogNotificationGateway(logger *slog.Logger) *LogNotificationGateway {
	return &LogNotificationGateway{logger: logger}
}

func (g *LogNotificationGateway) Send(ctx context.Context, email, displayName, code, purpose string) error {
	g.logger.WarnContext(ctx, "development notification gateway: code not emailed",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("purpose", purpose),
		slog.String("code", code))
	return nil
}
