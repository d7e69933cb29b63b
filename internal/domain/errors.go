package domain

import "errors"

// Error taxonomy for the assessment core. Callers classify with errors.Is.
var (
	// ErrUnknownStage indicates a stage identifier outside the fixed catalog.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrCorruptSession indicates persisted assessment state that could not be
	// decoded. Handled by falling back to a fresh assessment, never fatal.
	ErrCorruptSession = errors.New("corrupt session state")

	// ErrOracleUnavailable indicates a transient completion failure. No state
	// is mutated; the caller may retry safely.
	ErrOracleUnavailable = errors.New("completion oracle unavailable")

	// ErrReportFailed indicates the finalizer could not produce a report. The
	// assessment stays completed so finalization can be retried.
	ErrReportFailed = errors.New("report generation failed")

	// ErrNotCompleted indicates a report was requested before the assessment
	// reached the final stage.
	ErrNotCompleted = errors.New("assessment not completed")

	// ErrAlreadyCompleted indicates a mutation was attempted on a completed
	// assessment, which is immutable apart from follow-up conversation.
	ErrAlreadyCompleted = errors.New("assessment already completed")
)
