package model

// AuthOutcome is the result variant of an authenticate-or-register call.
type AuthOutcome string

const (
	AuthOutcomeAuthenticated AuthOutcome = "authenticated"
	AuthOutcomeRejected      AuthOutcome = "rejected"
)

// StoreBackend names a credential persistence backend.
type StoreBackend string

const (
	StoreBackendFile     StoreBackend = "file"
	StoreBackendSQLite   StoreBackend = "sqlite"
	StoreBackendRedis    StoreBackend = "redis"
	StoreBackendAirtable StoreBackend = "airtable"
)

// Valid reports whether b is a known backend name.
func (b StoreBackend) Valid() bool {
	switch b {
	case StoreBackendFile, StoreBackendSQLite, StoreBackendRedis, StoreBackendAirtable:
		return true
	}
	return false
}
