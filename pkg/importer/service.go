package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/openartifacts/catalog/pkg/catalog"
	"github.com/openartifacts/catalog/pkg/common/kafka"
	"github.com/openartifacts/catalog/pkg/common/logger"
)

var (
	ErrInvalidTransition = errors.New("importer: invalid status transition")
	ErrInvalidPhase      = errors.New("importer: unknown phase")
	ErrInvalidType       = errors.New("importer: unknown import type")
	ErrTerminal          = errors.New("importer: import already finished")
	ErrBadKey            = errors.New("importer: invalid instance key")
	ErrInstanceExists    = errors.New("importer: instance URL already registered")
	ErrNotAssigned       = errors.New("importer: import is not assigned to this instance")
)

// CreateImportRequest describes a new import job. GroupID set means
// "import a new version into this existing group"; ArtifactID additionally
// pins the parent version.
type CreateImportRequest struct {
	URL        string
	Type       string
	Module     string
	NoFetch    bool
	NoExtract  bool
	NoRemove   bool
	AutoFollow bool
	GroupID    *int64
	ArtifactID *int64
}

// StatusReport is what an importer instance posts back about a job.
type StatusReport struct {
	Status         string
	Phase          string
	Message        string
	Progress       float64
	BytesRetrieved int64
	BytesExtracted int64
	Log            string
	// Artifact is required with status=completed, phase=done.
	Artifact *ImportedArtifact
}

// ImportedArtifact is the payload materialized into the catalog when a job
// completes.
type ImportedArtifact struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	ExtID       string `json:"ext_id"`
}

// Materializer turns a finished import into catalog rows and persists the
// updated import in the same transaction, so a failure leaves neither
// catalog rows nor a half-finished import behind.
type Materializer interface {
	Materialize(ctx context.Context, ai *ArtifactImport, artifact *ImportedArtifact) error
}

type Service struct {
	store        Store
	materializer Materializer
	producer     *kafka.Producer
}

func NewService(store Store, materializer Materializer, producer *kafka.Producer) *Service {
	return &Service{store: store, materializer: materializer, producer: producer}
}

// CreateImport registers a new job, or returns the existing one when the
// same owner already has a job for the same url/group/artifact tuple.
func (s *Service) CreateImport(ctx context.Context, ownerID int64, req CreateImportRequest) (*ArtifactImport, bool, error) {
	if req.URL == "" {
		return nil, false, fmt.Errorf("importer: url is required")
	}
	if req.Type == "" {
		req.Type = "unknown"
	}
	if !IsValidImportType(req.Type) {
		return nil, false, ErrInvalidType
	}
	ai := &ArtifactImport{
		Type:            req.Type,
		URL:             req.URL,
		ImporterModule:  req.Module,
		NoFetch:         req.NoFetch,
		NoExtract:       req.NoExtract,
		NoRemove:        req.NoRemove,
		AutoFollow:      req.AutoFollow,
		OwnerID:         ownerID,
		Ctime:           time.Now().UTC(),
		Status:          StatusPending,
		Phase:           PhaseStart,
		ArtifactGroupID: req.GroupID,
	}
	if req.ArtifactID != nil {
		ai.ParentArtifactID = req.ArtifactID
	}
	err := s.store.CreateImport(ctx, ai)
	if err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, err
		}
		existing, ferr := s.store.FindImport(ctx, ownerID, req.URL, req.GroupID, ai.ArtifactID)
		if ferr != nil {
			return nil, false, err
		}
		return existing, true, nil
	}
	s.publish(ctx, "import-created", map[string]interface{}{
		"import_id": ai.ID,
		"owner_id":  ownerID,
		"url":       ai.URL,
	})
	return ai, false, nil
}

func (s *Service) GetImport(ctx context.Context, id int64) (*ArtifactImport, error) {
	return s.store.GetImport(ctx, id)
}

func (s *Service) ListImports(ctx context.Context, ownerID int64, includeArchived bool, page, perPage int) ([]ArtifactImport, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.store.ListImports(ctx, ownerID, includeArchived, page, perPage)
}

// ArchiveImport hides a finished job from default listings.
func (s *Service) ArchiveImport(ctx context.Context, id, ownerID int64, isAdmin bool) error {
	ai, err := s.store.GetImport(ctx, id)
	if err != nil {
		return err
	}
	if ai.OwnerID != ownerID && !isAdmin {
		return ErrNotFound
	}
	ai.Archived = true
	return s.store.SaveImport(ctx, ai)
}

// RegisterInstance creates an instance record and returns its one-time
// plaintext key. Only the bcrypt hash is stored.
func (s *Service) RegisterInstance(ctx context.Context, url string, maxTasks int) (*ImporterInstance, string, error) {
	if maxTasks < 1 {
		maxTasks = 1
	}
	key := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	inst := &ImporterInstance{
		URL:             url,
		KeyHash:         string(hash),
		MaxTasks:        maxTasks,
		Status:          InstanceUp,
		StatusTime:      now,
		AdminStatus:     AdminEnabled,
		AdminStatusTime: now,
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, "", ErrInstanceExists
		}
		return nil, "", err
	}
	s.publish(ctx, "instance-registered", map[string]interface{}{
		"instance_id": inst.ID,
		"url":         inst.URL,
	})
	return inst, key, nil
}

// AuthenticateInstance checks an instance's key against its stored hash.
func (s *Service) AuthenticateInstance(ctx context.Context, id int64, key string) (*ImporterInstance, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(inst.KeyHash), []byte(key)) != nil {
		return nil, ErrBadKey
	}
	return inst, nil
}

// Heartbeat marks an instance live. A stale or down instance becomes
// schedulable again on its next heartbeat.
func (s *Service) Heartbeat(ctx context.Context, inst *ImporterInstance) error {
	wasDown := inst.Status != InstanceUp
	inst.Status = InstanceUp
	inst.StatusTime = time.Now().UTC()
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return err
	}
	if wasDown {
		s.publish(ctx, "instance-heartbeat", map[string]interface{}{
			"instance_id": inst.ID,
		})
	}
	return nil
}

func (s *Service) ListInstances(ctx context.Context) ([]ImporterInstance, error) {
	return s.store.ListInstances(ctx)
}

// SetInstanceAdminStatus enables or disables scheduling onto an instance.
// Disabling does not touch work already assigned.
func (s *Service) SetInstanceAdminStatus(ctx context.Context, id int64, enabled bool) (*ImporterInstance, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	status := AdminDisabled
	if enabled {
		status = AdminEnabled
	}
	if inst.AdminStatus != status {
		inst.AdminStatus = status
		inst.AdminStatusTime = time.Now().UTC()
		if err := s.store.SaveInstance(ctx, inst); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// DeleteInstance removes an instance; its scheduled and running imports go
// back to the pending pool.
func (s *Service) DeleteInstance(ctx context.Context, id int64) error {
	if err := s.store.DeleteInstance(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, "import-released", map[string]interface{}{
		"instance_id": id,
	})
	return nil
}

// ClaimScheduled returns the imports assigned to an instance that it has
// not started yet, moving each to running.
func (s *Service) ClaimScheduled(ctx context.Context, inst *ImporterInstance) ([]ArtifactImport, error) {
	scheds, err := s.store.SchedulesForInstance(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	var claimed []ArtifactImport
	for _, sched := range scheds {
		ai, err := s.store.GetImport(ctx, sched.ArtifactImportID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if ai.Status != StatusScheduled {
			continue
		}
		ai.Status = StatusRunning
		ai.Phase = PhaseStart
		now := time.Now().UTC()
		ai.Mtime = &now
		if err := s.store.SaveImport(ctx, ai); err != nil {
			return nil, err
		}
		claimed = append(claimed, *ai)
	}
	return claimed, nil
}

// assignedTo checks that importID is currently scheduled to instanceID.
// Instances may only act on imports the scheduler handed to them.
func (s *Service) assignedTo(ctx context.Context, importID, instanceID int64) error {
	sched, err := s.store.ScheduleFor(ctx, importID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotAssigned
		}
		return err
	}
	if sched.ImporterInstanceID == nil || *sched.ImporterInstanceID != instanceID {
		return ErrNotAssigned
	}
	return nil
}

// SetRemoteID records the job id the instance assigned to an import.
func (s *Service) SetRemoteID(ctx context.Context, importID, remoteID, instanceID int64) error {
	if err := s.assignedTo(ctx, importID, instanceID); err != nil {
		return err
	}
	return s.store.SetScheduleRemoteID(ctx, importID, remoteID)
}

// ReleaseImport hands a scheduled import back to the pending pool.
func (s *Service) ReleaseImport(ctx context.Context, importID, instanceID int64) error {
	ai, err := s.store.GetImport(ctx, importID)
	if err != nil {
		return err
	}
	if ai.Status != StatusScheduled {
		return ErrInvalidTransition
	}
	if err := s.assignedTo(ctx, importID, instanceID); err != nil {
		return err
	}
	if err := s.store.ReleaseSchedule(ctx, importID); err != nil {
		return err
	}
	s.publish(ctx, "import-released", map[string]interface{}{
		"import_id": importID,
	})
	return nil
}

// ReportStatus applies a progress report from the instance the import is
// assigned to. Completed and failed are terminal; a completed job with
// phase done is materialized into the catalog together with the final
// status in a single transaction.
func (s *Service) ReportStatus(ctx context.Context, importID, instanceID int64, report StatusReport) (*ArtifactImport, error) {
	ai, err := s.store.GetImport(ctx, importID)
	if err != nil {
		return nil, err
	}
	if ai.Terminal() {
		return nil, ErrTerminal
	}
	if err := s.assignedTo(ctx, importID, instanceID); err != nil {
		return nil, err
	}
	if report.Status != "" && report.Status != ai.Status {
		if !CanTransition(ai.Status, report.Status) {
			return nil, ErrInvalidTransition
		}
		ai.Status = report.Status
	}
	if report.Phase != "" {
		if !IsValidPhase(report.Phase) {
			return nil, ErrInvalidPhase
		}
		ai.Phase = report.Phase
	}
	if report.Message != "" {
		ai.Message = report.Message
	}
	if report.Progress > 0 {
		ai.Progress = report.Progress
	}
	if report.BytesRetrieved > 0 {
		ai.BytesRetrieved = report.BytesRetrieved
	}
	if report.BytesExtracted > 0 {
		ai.BytesExtracted = report.BytesExtracted
	}
	if report.Log != "" {
		ai.Log = report.Log
	}
	now := time.Now().UTC()
	ai.Mtime = &now

	if ai.Status == StatusCompleted && ai.Phase == PhaseDone && ai.ArtifactID == nil {
		if report.Artifact == nil {
			return nil, fmt.Errorf("importer: completed report is missing the artifact payload")
		}
		if err := s.materializer.Materialize(ctx, ai, report.Artifact); err != nil {
			return nil, err
		}
	} else if err := s.store.SaveImport(ctx, ai); err != nil {
		return nil, err
	}
	if ai.Terminal() {
		if err := s.store.DeleteSchedule(ctx, importID); err != nil {
			logger.Log.WithField("error", err.Error()).Warn("Failed to clear schedule for finished import")
		}
		s.publish(ctx, "import-finished", map[string]interface{}{
			"import_id": ai.ID,
			"status":    ai.Status,
		})
	}
	return ai, nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishEvent(ctx, eventType, "importer-service", data); err != nil {
		logger.Log.WithField("error", err.Error()).Warn("Failed to publish import event")
	}
}

// CatalogMaterializer writes finished imports into the catalog tables.
type CatalogMaterializer struct {
	db *gorm.DB
}

func NewCatalogMaterializer(db *gorm.DB) *CatalogMaterializer {
	return &CatalogMaterializer{db: db}
}

// Materialize creates the artifact row for a finished import and saves the
// import itself in the same transaction. When the import targets an
// existing group the artifact is appended as the group's next version;
// otherwise a fresh group owned by the import's owner is created first.
// Nothing is published here; the owner publishes a version explicitly.
func (m *CatalogMaterializer) Materialize(ctx context.Context, ai *ArtifactImport, imported *ImportedArtifact) error {
	artifactType := imported.Type
	if !catalog.IsValidArtifactType(artifactType) {
		artifactType = "other"
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group catalog.ArtifactGroup
		if ai.ArtifactGroupID != nil {
			if err := tx.First(&group, *ai.ArtifactGroupID).Error; err != nil {
				return err
			}
		} else {
			group = catalog.ArtifactGroup{OwnerID: ai.OwnerID, NextVersion: 1}
			if err := tx.Create(&group).Error; err != nil {
				return err
			}
		}
		url := imported.URL
		if url == "" {
			url = ai.URL
		}
		artifact := catalog.Artifact{
			ArtifactGroupID: group.ID,
			Type:            artifactType,
			URL:             url,
			ExtID:           imported.ExtID,
			Title:           imported.Title,
			Name:            imported.Name,
			Description:     imported.Description,
			Ctime:           time.Now().UTC(),
			OwnerID:         &ai.OwnerID,
			ParentID:        ai.ParentArtifactID,
		}
		if err := tx.Create(&artifact).Error; err != nil {
			return err
		}
		ai.ArtifactGroupID = &group.ID
		ai.ArtifactID = &artifact.ID
		return tx.Save(ai).Error
	})
}
