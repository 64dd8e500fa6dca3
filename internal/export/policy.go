package export

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// Naming derives an alternate path for a locked destination.
type Naming func(path string, now time.Time) string

// TimestampNaming turns report.xlsx into report_20261018_142501.xlsx.
func TimestampNaming(path string, now time.Time) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + now.Format("20060102_150405") + ext
}

// Policy decides how a locked canonical path is handled. The canonical path
// is retried up to MaxRetries times, each retry gated by BeforeRetry, and then
// the artifact is written under Naming's alternate path.
type Policy struct {
	MaxRetries int
	Naming     Naming
	// BeforeRetry is called before retry attempt n (1-based). Returning false
	// skips the remaining retries. A nil BeforeRetry retries immediately.
	BeforeRetry func(path string, attempt int) bool
}

func DefaultPolicy() Policy {
	return Policy{Naming: TimestampNaming}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Naming == nil {
		p.Naming = TimestampNaming
	}
	return p
}

// IsLocked reports whether err means the destination is held by someone
// else rather than being unwritable for good.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrLocked) || errors.Is(err, fs.ErrPermission) || isSharingViolation(err)
}
