package mailer

import "fmt"

func greeting(name string) string {
	if name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

func VerificationEmail(to, name, otp string, ttlMinutes int) Message {
	return Message{
		To:      to,
		Subject: "Verify your email",
		Body: fmt.Sprintf("%s\n\nYour verification code is %s. It expires in %d minutes.\n\n"+
			"If you did not create an account, ignore this email.", greeting(name), otp, ttlMinutes),
	}
}

func VerifiedEmail(to, name string) Message {
	return Message{
		To:      to,
		Subject: "Email verified",
		Body:    fmt.Sprintf("%s\n\nYour email address has been verified.", greeting(name)),
	}
}

func PasswordResetEmail(to, name, resetURL string, ttlMinutes int) Message {
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf("%s\n\nUse the link below to choose a new password. It expires in %d minutes.\n\n%s\n\n"+
			"If you did not ask for a reset, ignore this email.", greeting(name), ttlMinutes, resetURL),
	}
}
