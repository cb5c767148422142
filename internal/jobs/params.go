package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/photovault/internal/models"
)

// ScanParams configures a scan job. Root is relative to the owner's
// library; empty means the whole library.
type ScanParams struct {
	Root string `json:"root,omitempty"`
}

// ExtractParams configures an extract job. An empty capability list
// means every configured capability.
type ExtractParams struct {
	Capabilities []string `json:"capabilities,omitempty"`
}

// ClusterParams configures a cluster job. Currently empty; kept so the
// wire shape stays stable when knobs appear.
type ClusterParams struct{}

var validCapabilities = map[string]bool{
	"embedding": true,
	"face":      true,
	"object":    true,
}

// validateParams checks the params payload against the job type and
// scope before a job is accepted.
func validateParams(jobType models.JobType, scopeID *uuid.UUID, raw json.RawMessage) error {
	switch jobType {
	case models.JobTypeScan:
		if scopeID == nil {
			return fmt.Errorf("scan jobs require an owner scope")
		}
		if len(raw) > 0 {
			var p ScanParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("invalid scan params: %w", err)
			}
		}
	case models.JobTypeExtract:
		if len(raw) > 0 {
			var p ExtractParams
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("invalid extract params: %w", err)
			}
			for _, c := range p.Capabilities {
				if !validCapabilities[c] {
					return fmt.Errorf("unknown capability %q", c)
				}
			}
		}
	case models.JobTypeCluster:
		if scopeID == nil {
			return fmt.Errorf("cluster jobs require an owner scope")
		}
	default:
		return fmt.Errorf("unknown job type %q", jobType)
	}
	return nil
}
