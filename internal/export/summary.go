package export

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/storelift/cafe24-harvester/internal/report"
)

// WriteRunSummary writes the run report as pretty-printed JSON.
func WriteRunSummary(path string, rep *report.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write run summary: %w", err)
	}
	return nil
}
