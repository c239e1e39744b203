package tokens

const (
	operationUse            = "use"
	operationCredit         = "credit"
	operationGrantUnlimited = "grant_unlimited"
	operationReset          = "reset"

	operationStatusOK     = "ok"
	operationStatusError  = "error"
	operationStatusDenied = "denied"

	// UnlimitedRemaining is the numeric stand-in reported while an unlimited
	// grant is active. Kept finite so the field stays a plain integer on the
	// wire.
	UnlimitedRemaining int64 = 999999

	// Grant durations use a fixed 30-day month, not calendar months.
	secondsPerGrantMonth int64 = 30 * 24 * 60 * 60

	messageUnlimited  = "Unlimited access"
	messageNoTokens   = "No tokens remaining. Please purchase more."
	minDeviceIDLength = 10
)
