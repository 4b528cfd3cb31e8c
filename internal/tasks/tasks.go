package tasks

const (
	// TypeGuardianInviteEmail delivers a guardian invite out-of-band.
	TypeGuardianInviteEmail = "guardian:invite:email"

	EMAIL_QUEUE_NAME = "guardvault:email_queue"
	QUEUE_NAME       = "guardvault:queue"
)
