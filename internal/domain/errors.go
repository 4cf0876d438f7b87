package domain

import "errors"

var (
	// ErrQuestionNotFound is returned when no question matches a fingerprint.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrBestAnswerNotFound is returned when a fingerprint has no reconciled answer yet.
	ErrBestAnswerNotFound = errors.New("best answer not found")
	// ErrEmptyText rejects captures whose question text is blank after trimming.
	ErrEmptyText = errors.New("question text is empty")
	// ErrMissingType rejects captures that carry no question type.
	ErrMissingType = errors.New("question type is missing")
	// ErrAlreadyMerged signals that the merge source fingerprint no longer exists.
	ErrAlreadyMerged = errors.New("source record already merged")
)
