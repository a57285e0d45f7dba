package report

import (
	"time"

	"github.com/storelift/cafe24-harvester/internal/qa"
)

// Report summarizes a completed harvest run for review.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	TotalURLs            int `json:"total_urls"`
	Succeeded            int `json:"succeeded"`
	RetriedThenSucceeded int `json:"retried_then_succeeded"`
	FailedPermanent      int `json:"failed_permanent"`
	ParseFailures        int `json:"parse_failures"`
	CaptchaTriggers      int `json:"captcha_triggers"`
	IdentityRotations    int `json:"identity_rotations"`

	Flags []qa.Flag `json:"qa_flags"`

	ExportCSV    string `json:"export_csv,omitempty"`
	ImageArchive string `json:"image_archive,omitempty"`
	AuditLog     string `json:"audit_log,omitempty"`
}

// Duration is the wall-clock time the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FlaggedProducts returns the distinct product IDs with at least one flag.
func (r *Report) FlaggedProducts() []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, flag := range r.Flags {
		if _, ok := seen[flag.ProductID]; ok {
			continue
		}
		seen[flag.ProductID] = struct{}{}
		ids = append(ids, flag.ProductID)
	}
	return ids
}
