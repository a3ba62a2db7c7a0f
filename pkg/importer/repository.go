package importer

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("importer: record not found")
	// ErrCapacity means the target instance had no free slot at commit time.
	ErrCapacity = errors.New("importer: instance at capacity")
	// ErrAlreadyScheduled means the import was claimed by a concurrent pass.
	ErrAlreadyScheduled = errors.New("importer: import already scheduled")
)

// InstanceLoad pairs an instance with the number of imports currently
// assigned to it.
type InstanceLoad struct {
	Instance ImporterInstance
	Assigned int64
}

// Store is the persistence surface the scheduler and service work against.
type Store interface {
	CreateImport(ctx context.Context, ai *ArtifactImport) error
	FindImport(ctx context.Context, ownerID int64, url string, groupID, artifactID *int64) (*ArtifactImport, error)
	GetImport(ctx context.Context, id int64) (*ArtifactImport, error)
	ListImports(ctx context.Context, ownerID int64, includeArchived bool, page, perPage int) ([]ArtifactImport, int64, error)
	SaveImport(ctx context.Context, ai *ArtifactImport) error

	PendingImports(ctx context.Context) ([]ArtifactImport, error)
	EligibleInstances(ctx context.Context) ([]InstanceLoad, error)
	MarkStaleInstances(ctx context.Context, olderThan time.Time) (int64, error)
	Assign(ctx context.Context, importID, instanceID int64) error
	ReleaseSchedule(ctx context.Context, importID int64) error
	DeleteSchedule(ctx context.Context, importID int64) error
	ScheduleFor(ctx context.Context, importID int64) (*ImporterSchedule, error)
	SchedulesForInstance(ctx context.Context, instanceID int64) ([]ImporterSchedule, error)
	SetScheduleRemoteID(ctx context.Context, importID, remoteID int64) error

	CreateInstance(ctx context.Context, inst *ImporterInstance) error
	GetInstance(ctx context.Context, id int64) (*ImporterInstance, error)
	GetInstanceByURL(ctx context.Context, url string) (*ImporterInstance, error)
	ListInstances(ctx context.Context) ([]ImporterInstance, error)
	SaveInstance(ctx context.Context, inst *ImporterInstance) error
	DeleteInstance(ctx context.Context, id int64) error
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&ArtifactImport{},
		&ImporterInstance{},
		&ImporterSchedule{},
	)
}

func (r *Repository) CreateImport(ctx context.Context, ai *ArtifactImport) error {
	err := r.db.WithContext(ctx).Create(ai).Error
	if err != nil && isUniqueViolation(err) {
		return gorm.ErrDuplicatedKey
	}
	return err
}

// FindImport looks up the job matching the dedup key
// (owner, url, group, artifact).
func (r *Repository) FindImport(ctx context.Context, ownerID int64, url string, groupID, artifactID *int64) (*ArtifactImport, error) {
	q := r.db.WithContext(ctx).
		Where("owner_id = ? AND url = ?", ownerID, url)
	if groupID != nil {
		q = q.Where("artifact_group_id = ?", *groupID)
	} else {
		q = q.Where("artifact_group_id IS NULL")
	}
	if artifactID != nil {
		q = q.Where("artifact_id = ?", *artifactID)
	} else {
		q = q.Where("artifact_id IS NULL")
	}
	var ai ArtifactImport
	if err := q.First(&ai).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ai, nil
}

func (r *Repository) GetImport(ctx context.Context, id int64) (*ArtifactImport, error) {
	var ai ArtifactImport
	if err := r.db.WithContext(ctx).First(&ai, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ai, nil
}

func (r *Repository) ListImports(ctx context.Context, ownerID int64, includeArchived bool, page, perPage int) ([]ArtifactImport, int64, error) {
	q := r.db.WithContext(ctx).Model(&ArtifactImport{})
	if ownerID > 0 {
		q = q.Where("owner_id = ?", ownerID)
	}
	if !includeArchived {
		q = q.Where("archived = false")
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var imports []ArtifactImport
	err := q.Order("id DESC").
		Limit(perPage).Offset((page - 1) * perPage).
		Find(&imports).Error
	return imports, total, err
}

func (r *Repository) SaveImport(ctx context.Context, ai *ArtifactImport) error {
	return r.db.WithContext(ctx).Save(ai).Error
}

// PendingImports returns unarchived pending jobs oldest first.
func (r *Repository) PendingImports(ctx context.Context) ([]ArtifactImport, error) {
	var imports []ArtifactImport
	err := r.db.WithContext(ctx).
		Where("status = ? AND archived = false", StatusPending).
		Order("id ASC").
		Find(&imports).Error
	return imports, err
}

// EligibleInstances returns enabled, up instances with their current
// assignment counts, least loaded first with id as tie-break.
func (r *Repository) EligibleInstances(ctx context.Context) ([]InstanceLoad, error) {
	var instances []ImporterInstance
	err := r.db.WithContext(ctx).
		Where("admin_status = ? AND status = ?", AdminEnabled, InstanceUp).
		Order("id ASC").
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	loads := make([]InstanceLoad, 0, len(instances))
	for _, inst := range instances {
		var assigned int64
		err := r.db.WithContext(ctx).Model(&ImporterSchedule{}).
			Where("importer_instance_id = ?", inst.ID).
			Count(&assigned).Error
		if err != nil {
			return nil, err
		}
		loads = append(loads, InstanceLoad{Instance: inst, Assigned: assigned})
	}
	return loads, nil
}

func (r *Repository) MarkStaleInstances(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&ImporterInstance{}).
		Where("status = ? AND status_time < ?", InstanceUp, olderThan).
		Updates(map[string]interface{}{
			"status":      InstanceStale,
			"status_time": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// Assign moves a pending import to an instance in one transaction. The
// instance row is locked so the capacity check holds at commit; the import
// status update is guarded so a concurrently claimed import is not
// double-assigned.
func (r *Repository) Assign(ctx context.Context, importID, instanceID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inst ImporterInstance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&inst, instanceID).Error
		if err != nil {
			return err
		}
		if !inst.Schedulable() {
			return ErrCapacity
		}
		var assigned int64
		err = tx.Model(&ImporterSchedule{}).
			Where("importer_instance_id = ?", inst.ID).
			Count(&assigned).Error
		if err != nil {
			return err
		}
		if assigned >= int64(inst.MaxTasks) {
			return ErrCapacity
		}

		res := tx.Model(&ArtifactImport{}).
			Where("id = ? AND status = ?", importID, StatusPending).
			Updates(map[string]interface{}{
				"status": StatusScheduled,
				"mtime":  time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyScheduled
		}

		now := time.Now().UTC()
		sched := ImporterSchedule{
			ArtifactImportID:   importID,
			ImporterInstanceID: &inst.ID,
			ScheduleTime:       &now,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "artifact_import_id"}},
			DoUpdates: clause.AssignmentColumns(
				[]string{"importer_instance_id", "schedule_time"}),
		}).Create(&sched).Error
		return err
	})
}

// ReleaseSchedule returns a scheduled import to the pending pool.
func (r *Repository) ReleaseSchedule(ctx context.Context, importID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("artifact_import_id = ?", importID).
			Delete(&ImporterSchedule{}).Error
		if err != nil {
			return err
		}
		return tx.Model(&ArtifactImport{}).
			Where("id = ? AND status = ?", importID, StatusScheduled).
			Updates(map[string]interface{}{
				"status": StatusPending,
				"mtime":  time.Now().UTC(),
			}).Error
	})
}

func (r *Repository) DeleteSchedule(ctx context.Context, importID int64) error {
	return r.db.WithContext(ctx).
		Where("artifact_import_id = ?", importID).
		Delete(&ImporterSchedule{}).Error
}

func (r *Repository) ScheduleFor(ctx context.Context, importID int64) (*ImporterSchedule, error) {
	var sched ImporterSchedule
	err := r.db.WithContext(ctx).
		Where("artifact_import_id = ?", importID).
		First(&sched).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sched, nil
}

func (r *Repository) SchedulesForInstance(ctx context.Context, instanceID int64) ([]ImporterSchedule, error) {
	var scheds []ImporterSchedule
	err := r.db.WithContext(ctx).
		Where("importer_instance_id = ?", instanceID).
		Order("id ASC").
		Find(&scheds).Error
	return scheds, err
}

func (r *Repository) SetScheduleRemoteID(ctx context.Context, importID, remoteID int64) error {
	return r.db.WithContext(ctx).Model(&ImporterSchedule{}).
		Where("artifact_import_id = ?", importID).
		Update("remote_id", remoteID).Error
}

func (r *Repository) CreateInstance(ctx context.Context, inst *ImporterInstance) error {
	err := r.db.WithContext(ctx).Create(inst).Error
	if err != nil && isUniqueViolation(err) {
		return gorm.ErrDuplicatedKey
	}
	return err
}

func (r *Repository) GetInstance(ctx context.Context, id int64) (*ImporterInstance, error) {
	var inst ImporterInstance
	if err := r.db.WithContext(ctx).First(&inst, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

func (r *Repository) GetInstanceByURL(ctx context.Context, url string) (*ImporterInstance, error) {
	var inst ImporterInstance
	err := r.db.WithContext(ctx).Where("url = ?", url).First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

func (r *Repository) ListInstances(ctx context.Context) ([]ImporterInstance, error) {
	var instances []ImporterInstance
	err := r.db.WithContext(ctx).Order("id ASC").Find(&instances).Error
	return instances, err
}

func (r *Repository) SaveInstance(ctx context.Context, inst *ImporterInstance) error {
	return r.db.WithContext(ctx).Save(inst).Error
}

func (r *Repository) DeleteInstance(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scheds []ImporterSchedule
		err := tx.Where("importer_instance_id = ?", id).Find(&scheds).Error
		if err != nil {
			return err
		}
		for _, sched := range scheds {
			err := tx.Model(&ArtifactImport{}).
				Where("id = ? AND status IN ?", sched.ArtifactImportID,
					[]string{StatusScheduled, StatusRunning}).
				Updates(map[string]interface{}{
					"status": StatusPending,
					"phase":  PhaseStart,
					"mtime":  time.Now().UTC(),
				}).Error
			if err != nil {
				return err
			}
		}
		err = tx.Where("importer_instance_id = ?", id).
			Delete(&ImporterSchedule{}).Error
		if err != nil {
			return err
		}
		return tx.Delete(&ImporterInstance{}, id).Error
	})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key")
}
