package doctor

import (
	"context"
)

// Category groups related checks; `bondings doctor --category` selects one.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryWallet  Category = "wallet"
	CategoryNetwork Category = "network"
	CategorySystem  Category = "system"
)

// Status represents the result status of a check
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// CheckResult represents the result of a single check
type CheckResult struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Status   Status   `json:"status"`
	Message  string   `json:"message"`
	Details  string   `json:"details,omitempty"`
	// FixCommand is a command the user can run to resolve a failure.
	FixCommand string `json:"fix_command,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Checker is a single diagnostic.
type Checker interface {
	Name() string
	Category() Category
	Check(ctx context.Context) CheckResult
}

// DoctorOptions configures the doctor run
type DoctorOptions struct {
	JSON     bool
	Category Category
}

// DoctorReport is what Run returns and what --json prints.
type DoctorReport struct {
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Summary provides an overview of the check results
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Warned  int `json:"warned"`
	Skipped int `json:"skipped"`
}

func (s *Summary) add(status Status) {
	s.Total++
	switch status {
	case StatusOK:
		s.Passed++
	case StatusError:
		s.Failed++
	case StatusWarning:
		s.Warned++
	case StatusSkipped:
		s.Skipped++
	}
}

// IsHealthy reports whether no check failed. Warnings do not count.
func (s Summary) IsHealthy() bool {
	return s.Failed == 0
}
