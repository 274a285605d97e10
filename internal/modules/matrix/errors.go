package matrix

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks caller input that was rejected before any write.
	ErrValidation = errors.New("matrix validation")
	// ErrNotFound marks an unknown matrix, row or slot id.
	ErrNotFound = errors.New("matrix not found")
	// ErrConflict marks a write that collided with existing state.
	ErrConflict = errors.New("matrix conflict")
)

// tagged keeps the sentinel matchable with errors.Is while Error() shows only the message.
type tagged struct {
	kind error
	msg  string
}

func (e *tagged) Error() string        { return e.msg }
func (e *tagged) Is(target error) bool { return target == e.kind }

func ValidationError(format string, args ...any) error {
	return &tagged{kind: ErrValidation, msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

func NotFoundError(format string, args ...any) error {
	return &tagged{kind: ErrNotFound, msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

func ConflictError(format string, args ...any) error {
	return &tagged{kind: ErrConflict, msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}
