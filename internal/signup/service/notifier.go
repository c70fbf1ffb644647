package service

import (
	"context"
	"log"
)

// LogNotifier writes verification links to the process log instead of
// sending mail. Development default; production wires a real sender behind
// the Notifier interface.
type LogNotifier struct {
	BaseURL string
}

func (n LogNotifier) SendVerification(ctx context.Context, email, rawToken string) error {
	log.Printf("signup: verification link for %s: %s/verify-email?token=%s", email, n.BaseURL, rawToken)
	return nil
}
