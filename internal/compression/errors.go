package compression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrRunInProgress is returned when a run is started while another is active
	ErrRunInProgress = errors.New("a compression run is already in progress")
	// ErrSaveFailed is returned when the library write produced no asset
	ErrSaveFailed = errors.New("failed to save compressed asset")
	// ErrUnknownPolicy is returned for a policy name other than copy or replace
	ErrUnknownPolicy = errors.New("unknown compression policy")
)

// AssetError is the failure of a single asset within a run
type AssetError struct {
	AssetID uuid.UUID
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.AssetID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// BatchError is returned only when every processed asset failed
type BatchError struct {
	Errors []error
}

func (e *BatchError) Error() string {
	if len(e.Errors) == 1 {
		return "compression failed: " + e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("compression failed for all %d assets: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error {
	return e.Errors
}
