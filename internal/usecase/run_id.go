package usecase

import (
	"time"

	"github.com/google/uuid"
)

// NewRunID returns an id of the form run_YYYYMMDD_HHMMSS_xxxxxxxx. The random
// suffix keeps runs started within the same second apart.
func NewRunID(now time.Time) string {
	return "run_" + now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}
