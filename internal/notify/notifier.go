// internal/notify/notifier.go
package notify

import (
	"context"
	"fmt"

	commonaws "loanflow/internal/common/aws"
	"loanflow/internal/common/config"
	apperrors "loanflow/internal/common/errors"
	"loanflow/internal/common/logger"
	"loanflow/internal/models"
	"loanflow/internal/smartfields"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type template struct {
	subject string
	body    string
}

// templates keys the client-facing copy by the event that triggers it.
var templates = map[string]template{
	"upload-bypassed": {
		subject: "Your application is moving forward",
		body:    "We have everything we need for now. Your application %s is in review.",
	},
	"stage-advanced": {
		subject: "Application update",
		body:    "Your application %s has moved to the next step.",
	},
	"signing-ready": {
		subject: "Your loan agreement is ready to sign",
		body:    "The loan agreement for application %s has been sent for signature.",
	},
}

// ApplicationReader resolves the application whose applicant gets notified.
type ApplicationReader interface {
	Get(ctx context.Context, applicationID string) (*models.Application, error)
}

// Notifier sends applicant notifications over SES email and SNS SMS. Contact
// details come out of the snapshot through the same fallback chains the
// signing fields use, so legacy applications are reachable too.
type Notifier struct {
	apps      ApplicationReader
	ses       *commonaws.SESClient
	sns       *commonaws.SNSClient
	generator *smartfields.Generator
	cfg       config.NotificationConfig
	logger    logger.Logger
}

func NewNotifier(apps ApplicationReader, sesClient *commonaws.SESClient, snsClient *commonaws.SNSClient, generator *smartfields.Generator, cfg config.NotificationConfig, log logger.Logger) *Notifier {
	return &Notifier{
		apps:      apps,
		ses:       sesClient,
		sns:       snsClient,
		generator: generator,
		cfg:       cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

func (n *Notifier) Notify(ctx context.Context, applicationID, channel, templateKey string) error {
	tmpl, ok := templates[templateKey]
	if !ok {
		return apperrors.NewValidationError("unknown notification template: " + templateKey)
	}

	app, err := n.apps.Get(ctx, applicationID)
	if err != nil {
		return err
	}
	fields := n.generator.Generate(&app.Snapshot)

	switch channel {
	case ChannelEmail:
		return n.sendEmail(ctx, applicationID, fields[smartfields.FieldContactEmail], tmpl)
	case ChannelSMS:
		return n.sendSMS(ctx, applicationID, fields[smartfields.FieldContactPhone], tmpl)
	default:
		return apperrors.NewValidationError("unknown notification channel: " + channel)
	}
}

func (n *Notifier) sendEmail(ctx context.Context, applicationID, to string, tmpl template) error {
	if !n.cfg.Email.Enabled || n.ses == nil {
		n.logger.Debug("email notifications disabled, skipping", map[string]interface{}{
			"applicationId": applicationID,
		})
		return nil
	}
	if to == "" {
		return apperrors.NewNotificationSendError(ChannelEmail, fmt.Errorf("application %s has no contact email", applicationID))
	}

	body := fmt.Sprintf(tmpl.body, applicationID)
	if err := n.ses.SendEmail(ctx, to, tmpl.subject, body); err != nil {
		return apperrors.NewNotificationSendError(ChannelEmail, err)
	}

	n.logger.Info("notification email sent", map[string]interface{}{
		"applicationId": applicationID,
	})
	return nil
}

func (n *Notifier) sendSMS(ctx context.Context, applicationID, phone string, tmpl template) error {
	if !n.cfg.SMS.Enabled || n.sns == nil {
		n.logger.Debug("sms notifications disabled, skipping", map[string]interface{}{
			"applicationId": applicationID,
		})
		return nil
	}
	if phone == "" {
		return apperrors.NewNotificationSendError(ChannelSMS, fmt.Errorf("application %s has no contact phone", applicationID))
	}

	if err := n.sns.PublishSMS(ctx, phone, fmt.Sprintf(tmpl.body, applicationID)); err != nil {
		return apperrors.NewNotificationSendError(ChannelSMS, err)
	}

	n.logger.Info("notification sms sent", map[string]interface{}{
		"applicationId": applicationID,
	})
	return nil
}
