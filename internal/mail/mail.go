// Package mail abstracts verification-email delivery. Actual delivery
// is a deployment concern; the default implementation only logs the
// verification link so local runs stay self-contained.
package mail

import "github.com/minedeck/minedeck/pkg/logger"

// Mailer sends account verification mail.
type Mailer interface {
	SendVerification(email, token string) error
}

// LogMailer writes the verification link to the log instead of sending
// anything.
type LogMailer struct{}

func (LogMailer) SendVerification(email, token string) error {
	logger.WithField("component", "mail").
		Infof("verification for %s: /api/verify-email?token=%s", email, token)
	return nil
}
