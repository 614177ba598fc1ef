package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAcquisition         = errors.New("acquisition failed")
	ErrInsufficientContent = errors.New("Document text is too short or empty")
	ErrEmptyCorpus         = errors.New("No valid transcript content to create vector store")
	ErrInference           = errors.New("inference failed")
	ErrMalformedOutput     = errors.New("malformed model output")
	ErrConfiguration       = errors.New("configuration error")
	ErrNotFound            = errors.New("not found")
)

type AcquisitionReason string

const (
	ReasonListingUnavailable AcquisitionReason = "listing_unavailable"
	ReasonSectionNotFound    AcquisitionReason = "section_not_found"
	ReasonNoMatchingLinks    AcquisitionReason = "no_matching_links"
	ReasonFetchFailed        AcquisitionReason = "fetch_failed"
	ReasonUnsupportedContent AcquisitionReason = "unsupported_content"
	ReasonEmptyText          AcquisitionReason = "empty_text"
	ReasonNoDocuments        AcquisitionReason = "no_documents"
)

type AcquisitionError struct {
	Reason AcquisitionReason
	Title  string
	URL    string
	Err    error
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("acquisition %s", e.Reason)
	if e.Title != "" {
		msg += fmt.Sprintf(" for %q", e.Title)
	} else if e.URL != "" {
		msg += fmt.Sprintf(" for %s", e.URL)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

func (e *AcquisitionError) Is(target error) bool { return target == ErrAcquisition }

type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInference }

type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// AcquisitionReasonOf returns the reason code carried by err, if any.
func AcquisitionReasonOf(err error) AcquisitionReason {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr.Reason
	}
	return ""
}
