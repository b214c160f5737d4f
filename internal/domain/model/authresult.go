package model

// AuthResult reports whether a login attempt succeeded. A first-time
// registration and a returning login are both AuthOutcomeAuthenticated;
// callers cannot tell them apart from the result.
type AuthResult struct {
	Outcome AuthOutcome
	Email   string // Empty when Outcome is AuthOutcomeRejected.
}

// Authenticated returns a successful result for email.
func Authenticated(email string) AuthResult {
	return AuthResult{Outcome: AuthOutcomeAuthenticated, Email: email}
}

// Rejected returns the password-mismatch result.
func Rejected() AuthResult {
	return AuthResult{Outcome: AuthOutcomeRejected}
}

// IsAuthenticated returns true when the result is AuthOutcomeAuthenticated.
func (r AuthResult) IsAuthenticated() bool {
	return r.Outcome == AuthOutcomeAuthenticated
}
