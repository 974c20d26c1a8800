// Package errs enumerates the distinct error codes this subsystem
// returns to callers (spec §7). Components return sentinel errors
// wrapping these codes rather than panicking; callers compare with
// errors.Is.
package errs

import "errors"

type Code string

const (
	CodeMalformed      Code = "malformed"
	CodeBadAuth        Code = "bad_auth"
	CodeBadAuthNo      Code = "bad_auth_no"
	CodeBadAuthExist   Code = "bad_auth_exist"
	CodeBadTableFlags  Code = "bad_table_flags"
	CodeNotFound       Code = "not_found"
	CodeDialect        Code = "dialect_error"
	CodeSyncStall      Code = "sync_stall"
	CodeRollback       Code = "rollback"
)

// codedError pairs a Code with the sentinel comparison target and a
// human-readable message.
type codedError struct {
	code Code
	msg  string
}

func (e *codedError) Error() string { return string(e.code) + ": " + e.msg }

func New(code Code, msg string) error {
	return &codedError{code: code, msg: msg}
}

// CodeOf extracts the Code from an error produced by New, or "" if the
// error did not originate here.
func CodeOf(err error) (Code, bool) {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code, true
	}
	return "", false
}

var (
	ErrMalformed     = New(CodeMalformed, "malformed transaction payload")
	ErrBadAuth       = New(CodeBadAuth, "account lacks required role flag")
	ErrBadAuthNo     = New(CodeBadAuthNo, "account has no entry in table users")
	ErrBadAuthExist  = New(CodeBadAuthExist, "table entry deleted or absent")
	ErrBadTableFlags = New(CodeBadTableFlags, "account lacks the opcode's role flag")
	ErrNotFound      = New(CodeNotFound, "table entry not found at ledger time")
)
