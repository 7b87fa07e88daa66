package models

type ProjectStatus string

const (
	ProjectReview    ProjectStatus = "REVIEW"
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectBlocked   ProjectStatus = "BLOCKED"
	ProjectSuspended ProjectStatus = "SUSPENDED"
)

type Project struct {
	ID     int64
	Name   string
	Status ProjectStatus
	OnHold bool
}

// Functional reports whether users of the project may act at all.
func (p *Project) Functional() bool {
	return p.Status == ProjectActive && !p.OnHold
}
