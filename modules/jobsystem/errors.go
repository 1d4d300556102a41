package jobsystem

import (
	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/errors"
)

var (
	ErrInvalidHandle   = errors.New("invalid job handle")
	ErrAlreadyPushed   = errors.New("job already pushed")
	ErrParentStarted   = errors.New("parent job no longer accepts children")
	ErrAlreadyParented = errors.New("job already has a parent")
	ErrCycle           = errors.New("job dependency cycle")
	ErrCanceled        = errors.New("job canceled")
	ErrShutdown        = errors.New("job system destroyed")
)

var errorCodes = map[error]string{
	ErrInvalidHandle:   "JOB_INVALID_HANDLE",
	ErrAlreadyPushed:   "JOB_ALREADY_PUSHED",
	ErrParentStarted:   "JOB_PARENT_STARTED",
	ErrAlreadyParented: "JOB_ALREADY_PARENTED",
	ErrCycle:           "JOB_CYCLE",
	ErrCanceled:        "JOB_CANCELED",
	ErrShutdown:        "JOB_SYSTEM_SHUTDOWN",
}

func jobError(err error, h core.Handle) error {
	return errors.DomainError(err).
		WithCode(errorCodes[err]).
		WithMetadata("job", h.String())
}

// ResultOf maps an error returned by the job system to its result code.
func ResultOf(err error) core.Result {
	switch {
	case err == nil:
		return core.ResultOK
	case errors.Is(ErrInvalidHandle, err):
		return core.ResultInvalidHandle
	case errors.Is(ErrCanceled, err):
		return core.ResultCanceled
	default:
		return core.ResultError
	}
}
