package mail

// Notifier sends subscription lifecycle emails over SMTP. Send errors are
// already logged by SendMail; lifecycle flows treat notifications as
// best-effort and never fail on them.
type Notifier struct{}

func (Notifier) TrialStarted(email, plan string, trialDays int) {
	_ = SendTrialStartedMail(email, plan, trialDays)
}

func (Notifier) PaymentFailed(email string) {
	_ = SendPaymentFailedMail(email)
}
