package domain

import "errors"

var (
	// ErrInvalidRange is returned when a position's range width is outside (0, 1).
	ErrInvalidRange = errors.New("range width must be between 0 and 1 (exclusive)")
	// ErrInvalidDeposit is returned when a position is opened with non-positive maximums.
	ErrInvalidDeposit = errors.New("invalid deposit amounts")
	// ErrDataUnavailable is fatal for a run: the price series could not be loaded
	// or has an unusable shape.
	ErrDataUnavailable = errors.New("price data unavailable")
	// ErrRegressionFit is returned when the historical health-factor model cannot be fitted.
	ErrRegressionFit = errors.New("health factor regression fit failed")
	ErrRunNotFound   = errors.New("run not found")
)
