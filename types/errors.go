package types

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindUpstreamJobFailed
	KindUpstreamUnavailable
	KindNoEvidence
	KindTimedOut
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "INVALID_INPUT"
	case KindUpstreamJobFailed:
		return "UPSTREAM_JOB_FAILED"
	case KindUpstreamUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	case KindNoEvidence:
		return "NO_EVIDENCE"
	case KindTimedOut:
		return "TIMED_OUT"
	default:
		return "INTERNAL"
	}
}

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageExtract       Stage = "extract"
	StageEmbed         Stage = "embed"
	StageRetrieve      Stage = "retrieve"
	StageIndex         Stage = "index"
	StageComplete      Stage = "complete"
	StageStorage       Stage = "storage"
	StageKnowledgeBase Stage = "knowledge_base"
	StageJobs          Stage = "jobs"
)

type Error struct {
	Kind  Kind
	Stage Stage
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Stage != "" {
		msg = string(e.Stage) + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind when the target carries no stage,
// so errors.Is(err, ErrNoEvidence) works for every stage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Stage == "" || t.Stage == e.Stage
}

var (
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrUpstreamJobFailed   = &Error{Kind: KindUpstreamJobFailed}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrNoEvidence          = &Error{Kind: KindNoEvidence}
	ErrTimedOut            = &Error{Kind: KindTimedOut}
)

func InvalidInput(stage Stage, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Stage: stage, Msg: msg}
}

func JobFailed(stage Stage, msg string, err error) *Error {
	return &Error{Kind: KindUpstreamJobFailed, Stage: stage, Msg: msg, Err: err}
}

func Unavailable(stage Stage, msg string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Stage: stage, Msg: msg, Err: err}
}

func NoEvidence(stage Stage, msg string) *Error {
	return &Error{Kind: KindNoEvidence, Stage: stage, Msg: msg}
}

func TimedOut(stage Stage, msg string, err error) *Error {
	return &Error{Kind: KindTimedOut, Stage: stage, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StageOf returns the Stage of the first *Error in err's chain.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// Wrap tags err with kind and stage unless it is already a pipeline error
// or the caller's own cancellation.
func Wrap(err error, kind Kind, stage Stage, msg string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Stage: stage, Msg: msg, Err: err}
}
