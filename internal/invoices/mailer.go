package invoices

import (
	"context"

	"go.uber.org/zap"
)

// Mailer delivers outbound mail. The real delivery channel lives outside the
// engine; LogMailer stands in where none is wired.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type LogMailer struct{ Log *zap.Logger }

func (m LogMailer) Send(_ context.Context, to, subject, _ string) error {
	m.Log.Info("mail_out",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}
