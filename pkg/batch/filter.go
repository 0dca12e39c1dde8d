package batch

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FilterByType returns the jobs whose type matches a doublestar glob.
//
// An empty pattern keeps every job. Order is preserved.
func FilterByType(jobs []JobRecord, pattern string) ([]JobRecord, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return jobs, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid job type pattern: %q", pattern)
	}

	out := make([]JobRecord, 0, len(jobs))
	for _, job := range jobs {
		ok, err := doublestar.Match(pattern, job.JobType)
		if err != nil {
			return nil, fmt.Errorf("match job type %q: %w", job.JobType, err)
		}
		if ok {
			out = append(out, job)
		}
	}
	return out, nil
}
