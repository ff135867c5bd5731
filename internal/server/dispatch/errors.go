package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/passvault/internal/common"
)

// errHeld marks a save or update that the safety check held back.
var errHeld = errors.New("held for confirmation")

// replyError carries the text shown to the client while keeping the
// underlying error (and its kind) for logs and errors.Is.
type replyError struct {
	text string
	err  error
}

func (e *replyError) Error() string { return e.text + ": " + e.err.Error() }
func (e *replyError) Unwrap() error { return e.err }

func reply(err error, format string, args ...any) error {
	return &replyError{text: fmt.Sprintf(format, args...), err: err}
}

// describe turns an error into the description sent to the client.
func describe(err error) string {
	var re *replyError
	if errors.As(err, &re) {
		return re.text
	}

	switch {
	case errors.Is(err, common.ErrAlreadyLogged):
		return "You are already logged in. Log out first."
	case errors.Is(err, common.ErrAuthRequired):
		return "Please log in or register first."
	case errors.Is(err, common.ErrUnauthorized):
		return "Wrong username or password, please try again!"
	case errors.Is(err, common.ErrStorageCorrupted):
		return "Stored data could not be read. Please contact the administrator."
	case errors.Is(err, common.ErrCryptoFailure):
		return "Stored password could not be decrypted."
	case errors.Is(err, common.ErrIO):
		return "Storage is unavailable, please try again later."
	case errors.Is(err, common.ErrProtocol),
		errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrEmptyVault),
		errors.Is(err, common.ErrConflict),
		errors.Is(err, common.ErrDependencyUnavailable):
		return detail(err)
	}
	return "Internal server error, please try again later."
}

var kindPrefixes = []error{
	common.ErrProtocol,
	common.ErrValidation,
	common.ErrNotFound,
	common.ErrConflict,
	common.ErrDependencyUnavailable,
}

// detail strips the sentinel prefix from "validation error: site must not
// be empty" style messages.
func detail(err error) string {
	msg := err.Error()
	for _, k := range kindPrefixes {
		msg = strings.TrimPrefix(msg, k.Error()+": ")
	}
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func kindOf(err error) string {
	if errors.Is(err, errHeld) {
		return "held"
	}
	return common.Kind(err)
}
