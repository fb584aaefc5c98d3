package service

import "errors"

// ErrNoData indicates a pass found nothing usable to compute from.
var ErrNoData = errors.New("no valid data")

// ErrNotFound indicates the requested resource was not found.
var ErrNotFound = errors.New("not found")

// ErrUnknownCurrency indicates the currency code is not tracked.
var ErrUnknownCurrency = errors.New("unknown currency")

// ErrUnknownSource indicates the source name is not registered.
var ErrUnknownSource = errors.New("unknown source")

// ErrInvalidTimestamp indicates a timestamp could not be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// ErrPassInProgress indicates another process holds the pipeline lock.
var ErrPassInProgress = errors.New("pipeline pass already in progress")

// ErrInternal indicates an internal server error.
var ErrInternal = errors.New("internal error")
