package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable matches failures where no response was received.
	ErrUnreachable = errors.New("remote service unreachable")
	// ErrRejected matches non-success responses.
	ErrRejected = errors.New("remote service rejected request")
)

// Error describes a failed remote call. Use errors.Is with ErrUnreachable or
// ErrRejected to classify it.
type Error struct {
	Op     string // e.g. "POST /upload"
	Status int    // HTTP status; 0 when unreachable
	Detail string // remote "detail" message, if any
	Err    error  // transport error when unreachable
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Status == 0
	case ErrRejected:
		return e.Status != 0
	}
	return false
}

// Detail returns the most useful human-readable message for err: the remote
// detail for rejections, the transport error for unreachable calls, and
// err.Error() for anything else.
func Detail(err error) string {
	var re *Error
	if errors.As(err, &re) {
		if re.Status == 0 {
			if re.Err != nil {
				return re.Err.Error()
			}
			return ErrUnreachable.Error()
		}
		if re.Detail != "" {
			return re.Detail
		}
		return fmt.Sprintf("server returned %d", re.Status)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
