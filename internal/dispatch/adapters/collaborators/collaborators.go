// Package collaborators holds the default stand-in adapters for external
// services the engine only talks to through ports: the payment gateway and
// the notification channel. Production deployments swap these for real
// integrations at composition time.
package collaborators

import (
	"context"
	"fmt"

	"ride-dispatch/internal/dispatch/ports"
	"ride-dispatch/pkg/logger"
	"ride-dispatch/pkg/uuid"
)

// LoggingPaymentGateway acknowledges every charge and logs it. It keeps the
// lifecycle flow intact where no real gateway is configured.
type LoggingPaymentGateway struct {
	log logger.Logger
}

func NewLoggingPaymentGateway(log logger.Logger) *LoggingPaymentGateway {
	return &LoggingPaymentGateway{log: log}
}

func (g *LoggingPaymentGateway) Charge(_ context.Context, ref string, amount float64, currency string) (ports.PaymentOutcome, error) {
	outcome := ports.PaymentOutcome{
		Reference: "pay-" + uuid.NewString(),
		Status:    "CAPTURED",
		Amount:    amount,
		Currency:  currency,
	}
	g.log.Info("payment.charge", fmt.Sprintf("Charged %.2f %s for %s", amount, currency, ref))
	return outcome, nil
}

func (g *LoggingPaymentGateway) Verify(_ context.Context, ref string) (ports.PaymentOutcome, error) {
	return ports.PaymentOutcome{Reference: ref, Status: "CAPTURED"}, nil
}

func (g *LoggingPaymentGateway) Refund(_ context.Context, ref string, amount float64) error {
	g.log.Info("payment.refund", fmt.Sprintf("Refunded %.2f for %s", amount, ref))
	return nil
}

// LoggingNotifier logs outbound notifications instead of delivering them.
type LoggingNotifier struct {
	log logger.Logger
}

func NewLoggingNotifier(log logger.Logger) *LoggingNotifier {
	return &LoggingNotifier{log: log}
}

func (n *LoggingNotifier) Send(_ context.Context, userID, template string, data map[string]any) error {
	n.log.WithFields(logger.LogFields{"user_id": userID, "template": template, "data": data}).
		Info("notify.send", "Notification dispatched")
	return nil
}
