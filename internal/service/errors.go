package service

import "errors"

var (
	ErrNoImage         = errors.New("no invoice image uploaded")
	ErrAlreadyAnalyzed = errors.New("invoice already analyzed, reset to analyze again")
	ErrNotAnalyzed     = errors.New("invoice has not been analyzed yet")
)
