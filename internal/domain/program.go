package domain

import (
	"time"

	"github.com/google/uuid"
)

// SentinelProgramID is the placeholder literal some clients send when no
// program was selected. It means "absent" and must never reach an
// identifier-validated lookup.
const SentinelProgramID = "string"

// AcademicProgram is the full program record used for structured context
// injection. Read-only to this service.
type AcademicProgram struct {
	ID          string
	Name        string
	Level       string
	Modality    string
	Duration    string
	Credits     int
	Description string
}

// ProgramSummary is the reduced shape used for directory listings and
// mention matching.
type ProgramSummary struct {
	ID    string
	Name  string
	Level string
}

// StudyPlan is a program's curriculum document. At most one active plan is
// current per program; selection picks the most recently updated one.
type StudyPlan struct {
	ProgramID   string
	Title       string
	DocumentURL string
	Active      bool
	UpdatedAt   time.Time
}

// ValidProgramID reports whether id is a well-formed program identifier.
// The sentinel literal is treated as absent, not as a real key.
func ValidProgramID(id string) bool {
	if id == "" || id == SentinelProgramID {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
