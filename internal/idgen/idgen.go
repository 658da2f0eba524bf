// Package idgen generates short, sortable, collision-resistant identifiers
// for tasks, cases, documents, and workflow runs.
package idgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns an identifier of the form "<prefix><unix-seconds>_<uuid12>",
// mirroring the original service's generate_unique_id helper: a coarse
// time-ordered prefix for human sorting, plus a UUID suffix to rule out
// same-second collisions under concurrent task creation.
func New(prefix string) string {
	ts := time.Now().UTC().Unix()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%d_%s", prefix, ts, suffix)
}

// Prefixes used across the domain for human-readable ID grepping.
const (
	TaskPrefix   = "TASK"
	CasePrefix   = "TC"
	ReportPrefix = "RPT"
)
