package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/speakloop/speakloop/internal/pkg/env"
)

// SendMail sends an email via SMTP
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// SendTrialStartedMail notifies a user that their trial has begun.
func SendTrialStartedMail(to string, plan string, trialDays int) error {
	subject := "Your SpeakLoop trial has started"
	body := fmt.Sprintf(
		"<p>Welcome to SpeakLoop Premium!</p>"+
			"<p>Your %d-day free trial of the %s plan is now active. "+
			"You will not be charged until the trial ends, and you can cancel anytime from your account settings.</p>",
		trialDays, plan,
	)
	return SendMail(to, subject, body)
}

// SendPaymentFailedMail notifies a user that their trial conversion failed.
func SendPaymentFailedMail(to string) error {
	subject := "We could not process your payment"
	body := "<p>Your SpeakLoop trial has ended, but we were unable to charge your stored payment method.</p>" +
		"<p>Your subscription is on hold. Please update your payment details or retry the payment from your account settings.</p>"
	return SendMail(to, subject, body)
}
