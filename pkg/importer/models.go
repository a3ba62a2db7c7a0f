package importer

import (
	"time"

	"gorm.io/datatypes"
)

// Import job lifecycle. Status is the backend's view; phase is the remote
// importer's progress marker and never gates a transition.
const (
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	PhaseStart    = "start"
	PhaseValidate = "validate"
	PhaseImport   = "import"
	PhaseRetrieve = "retrieve"
	PhaseExtract  = "extract"
	PhaseDone     = "done"
)

const (
	InstanceUp    = "up"
	InstanceDown  = "down"
	InstanceStale = "stale"

	AdminEnabled  = "enabled"
	AdminDisabled = "disabled"
)

var ImportTypes = []string{
	"unknown", "publication", "presentation", "dataset", "software", "other",
}

func IsValidImportType(t string) bool {
	for _, known := range ImportTypes {
		if t == known {
			return true
		}
	}
	return false
}

var phaseOrder = map[string]int{
	PhaseStart:    0,
	PhaseValidate: 1,
	PhaseImport:   2,
	PhaseRetrieve: 3,
	PhaseExtract:  4,
	PhaseDone:     5,
}

func IsValidPhase(p string) bool {
	_, ok := phaseOrder[p]
	return ok
}

// validTransitions encodes the status machine:
// pending -> scheduled -> running -> {completed, failed}, with
// scheduled -> pending when an instance releases a claim.
var validTransitions = map[string][]string{
	StatusPending:   {StatusScheduled},
	StatusScheduled: {StatusRunning, StatusPending},
	StatusRunning:   {StatusCompleted, StatusFailed},
}

func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ArtifactImport is one import job. For a reimport (new version of a known
// group) ArtifactGroupID and ParentArtifactID are fixed at creation;
// otherwise group and artifact rows only materialize on
// status=completed ∧ phase=done.
type ArtifactImport struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Type           string `gorm:"type:varchar(32);not null"`
	URL            string `gorm:"size:1024;not null;uniqueIndex:uq_import,priority:2"`
	ImporterModule string `gorm:"size:256"`
	NoFetch        bool   `gorm:"default:false"`
	NoExtract      bool   `gorm:"default:false"`
	NoRemove       bool   `gorm:"default:false"`
	AutoFollow     bool   `gorm:"default:false"`
	OwnerID        int64  `gorm:"not null;uniqueIndex:uq_import,priority:1"`
	Ctime          time.Time `gorm:"not null"`
	Mtime          *time.Time
	Status         string  `gorm:"type:varchar(32);not null;index"`
	Phase          string  `gorm:"type:varchar(32);not null"`
	Message        string  `gorm:"type:text"`
	Progress       float64 `gorm:"default:0"`
	BytesRetrieved int64   `gorm:"not null;default:0"`
	BytesExtracted int64   `gorm:"not null;default:0"`
	Log            string  `gorm:"type:text"`
	Extra          datatypes.JSONMap `gorm:"type:jsonb"`

	ArtifactGroupID  *int64 `gorm:"uniqueIndex:uq_import,priority:3"`
	ParentArtifactID *int64
	ArtifactID       *int64 `gorm:"uniqueIndex:uq_import,priority:4"`
	Archived         bool   `gorm:"not null;default:false"`
}

func (ArtifactImport) TableName() string { return "artifact_imports" }

// Terminal reports whether the job can never change again.
func (ai *ArtifactImport) Terminal() bool {
	return ai.Status == StatusCompleted || ai.Status == StatusFailed
}

// ImporterInstance is a registered worker with bounded concurrent capacity.
// The registration key is stored as a bcrypt hash.
type ImporterInstance struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	URL             string    `gorm:"size:1024;not null;uniqueIndex"`
	KeyHash         string    `gorm:"size:128;not null"`
	MaxTasks        int       `gorm:"not null"`
	Status          string    `gorm:"type:varchar(16);not null"`
	StatusTime      time.Time `gorm:"not null"`
	AdminStatus     string    `gorm:"type:varchar(16);not null"`
	AdminStatusTime time.Time `gorm:"not null"`
}

func (ImporterInstance) TableName() string { return "importer_instances" }

// Schedulable reports whether new work may be assigned to the instance.
func (inst *ImporterInstance) Schedulable() bool {
	return inst.AdminStatus == AdminEnabled && inst.Status == InstanceUp
}

// ImporterSchedule assigns one import to one instance. The uniqueness of
// artifact_import_id guarantees an import is scheduled at most once at a
// time.
type ImporterSchedule struct {
	ID                 int64 `gorm:"primaryKey;autoIncrement"`
	ArtifactImportID   int64 `gorm:"not null;uniqueIndex"`
	ImporterInstanceID *int64
	ScheduleTime       *time.Time
	// RemoteID is the job's id inside the importer instance.
	RemoteID *int64
}

func (ImporterSchedule) TableName() string { return "importer_schedules" }
