package service

import "errors"

// Reset-device service errors
var (
	ErrTokenNotFound          = errors.New("reset token not found")
	ErrNoOptionSelected       = errors.New("no option selected")
	ErrWrongAnswer            = errors.New("security answer does not match")
	ErrInvalidStateTransition = errors.New("invalid reset device state transition")
	ErrKBANotEnrolled         = errors.New("user has no security question enrolled")
	ErrInvalidUser            = errors.New("user id is required")
)
