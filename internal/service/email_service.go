package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"wabisabi/internal/logger"
	"wabisabi/internal/models"
)

// sesAPI is the part of the SES client the email service calls
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailService handles sending emails via Amazon SES
type EmailService struct {
	client     sesAPI
	log        *logger.Logger
	fromEmail  string
	fromName   string
	appBaseURL string
	enabled    bool
	debug      bool
}

// NewEmailService creates a new email service. Without a sender address the
// service is disabled and only logs what it would have sent.
func NewEmailService(ctx context.Context, log *logger.Logger, awsRegion, fromEmail, fromName, appBaseURL string, debug bool) (*EmailService, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("service", "EmailService")

	if fromEmail == "" {
		log.Info("email service disabled: SES_FROM_EMAIL not configured")
		return &EmailService{log: log, enabled: false, debug: debug}, nil
	}

	if debug {
		log.Debug("initializing email service", "region", awsRegion, "from", fromEmail, "from_name", fromName, "base_url", appBaseURL)
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(awsRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("email service enabled", "from", fromEmail, "region", awsRegion)
	return newEmailService(sesv2.NewFromConfig(cfg), log, fromEmail, fromName, appBaseURL, debug), nil
}

func newEmailService(client sesAPI, log *logger.Logger, fromEmail, fromName, appBaseURL string, debug bool) *EmailService {
	return &EmailService{
		client:     client,
		log:        log,
		fromEmail:  fromEmail,
		fromName:   fromName,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		enabled:    true,
		debug:      debug,
	}
}

// IsEnabled returns whether the email service is enabled
func (s *EmailService) IsEnabled() bool {
	return s.enabled
}

// SendReviewReminder tells a learner how many items are due per deck
func (s *EmailService) SendReviewReminder(ctx context.Context, learner models.Learner, due []DeckDue) error {
	if len(due) == 0 {
		return nil
	}
	if !s.enabled {
		s.log.Info("skipping email send (service disabled)", "kind", "review_reminder", "to", learner.Email)
		return nil
	}

	total := 0
	for _, d := range due {
		total += d.DueItems
	}

	name := learner.Name
	if name == "" {
		name = "there"
	}
	subject := fmt.Sprintf("%d words are ready for review", total)
	if total == 1 {
		subject = "1 word is ready for review"
	}

	var htmlRows, textRows strings.Builder
	for _, d := range due {
		link := fmt.Sprintf("%s/decks/%s/review", s.appBaseURL, d.DeckID)
		fmt.Fprintf(&htmlRows, "\t\t\t\t<li><a href=\"%s\">%s</a>: %d due</li>\n", html.EscapeString(link), html.EscapeString(d.Title), d.DueItems)
		fmt.Fprintf(&textRows, "- %s: %d due (%s)\n", d.Title, d.DueItems, link)
	}

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<style>
		body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
		.container { max-width: 600px; margin: 0 auto; padding: 20px; }
		.header { background-color: #5b8c5a; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
		.content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
		.footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
	</style>
</head>
<body>
	<div class="container">
		<div class="header">
			<h1>Time to review</h1>
		</div>
		<div class="content">
			<p>Hi %s,</p>
			<p>Some of the words you practiced are due for review. A short session now keeps them fresh.</p>
			<ul>
%s			</ul>
		</div>
		<div class="footer">
			<p>You can turn these reminders off in your settings.</p>
		</div>
	</div>
</body>
</html>
`, html.EscapeString(name), htmlRows.String())

	textBody := fmt.Sprintf(`Hi %s,

Some of the words you practiced are due for review. A short session now keeps them fresh.

%s
---
You can turn these reminders off in your settings.
`, name, textRows.String())

	return s.sendEmail(ctx, learner.Email, subject, htmlBody, textBody)
}

// sendEmail sends an email using Amazon SES
func (s *EmailService) sendEmail(ctx context.Context, toEmail, subject, htmlBody, textBody string) error {
	fromAddress := s.fromEmail
	if s.fromName != "" {
		fromAddress = fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)
	}

	if s.debug {
		s.log.Debug("sending email", "from", fromAddress, "to", toEmail, "subject", subject,
			"html_bytes", len(htmlBody), "text_bytes", len(textBody))
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{toEmail},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(htmlBody),
						Charset: aws.String("UTF-8"),
					},
					Text: &types.Content{
						Data:    aws.String(textBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", toEmail, err)
	}

	if s.debug && result.MessageId != nil {
		s.log.Debug("SES SendEmail succeeded", "message_id", *result.MessageId)
	}
	s.log.Info("email sent", "to", toEmail, "subject", subject)
	return nil
}
