package interfaces

import "errors"

// Registry errors. Every failing operation returns one of these and leaves state untouched.
var (
	ErrUnauthorized         = errors.New("caller is not the admin")
	ErrAlreadyRegistered    = errors.New("institution already registered")
	ErrDuplicateCertificate = errors.New("certificate already registered")
	ErrNotRegistered        = errors.New("institution not registered")
	ErrNotFound             = errors.New("certificate not found")
	ErrNotVerified          = errors.New("institution not verified")
	ErrInvalidHash          = errors.New("invalid certificate hash")
	ErrInvalidName          = errors.New("name is required")
	ErrInvalidDate          = errors.New("invalid issue date")
	ErrInvalidIdentity      = errors.New("invalid identity")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrAlreadyRegistered, "already_registered"},
	{ErrDuplicateCertificate, "duplicate_certificate"},
	{ErrNotRegistered, "not_registered"},
	{ErrNotFound, "not_found"},
	{ErrNotVerified, "not_verified"},
	{ErrInvalidHash, "invalid_hash"},
	{ErrInvalidName, "invalid_name"},
	{ErrInvalidDate, "invalid_date"},
	{ErrInvalidIdentity, "invalid_identity"},
	{ErrContentNotFound, "content_not_found"},
	{ErrBackendUnavailable, "backend_unavailable"},
	{ErrRecordExists, "record_exists"},
	{ErrRecordNotFound, "record_not_found"},
}

// ErrorCode returns a short stable code for err, "ok" for nil and "internal"
// for errors outside the known taxonomy.
func ErrorCode(err error) string {
	if err == nil {
		return "ok"
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

// ErrorForCode returns the error ErrorCode maps to code, or nil for codes
// outside the taxonomy.
func ErrorForCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
