package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Repo is the job store. Every write touches a single row except CreateJob,
// which inserts the job and all of its items in one transaction.
type Repo struct {
	DB *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{DB: db}
}

type CreateJobInput struct {
	UserID     uint64
	DeviceID   string
	Type       Type
	Data       json.RawMessage
	Recipients []string
	RetryOf    *string

	IdempotencyKey *string
}

const itemBatchSize = 500

// CreateJob validates and persists a queued job with one pending item per
// distinct recipient. When the input carries an idempotency key already used
// by the same owner, the existing job is returned and created is false.
func (r *Repo) CreateJob(ctx context.Context, in CreateJobInput) (job *Job, created bool, err error) {
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if in.DeviceID == "" {
		return nil, false, invalid("deviceId", "required")
	}
	if in.IdempotencyKey != nil {
		k := strings.TrimSpace(*in.IdempotencyKey)
		if k == "" {
			in.IdempotencyKey = nil
		} else {
			if len(k) > 128 {
				return nil, false, invalid("idempotencyKey", "longer than 128 characters")
			}
			in.IdempotencyKey = &k
			if j, err := r.findByIdempotencyKey(ctx, in.UserID, k); err != nil || j != nil {
				return j, false, err
			}
		}
	}
	p, err := ParsePayload(in.Type, in.Data)
	if err != nil {
		return nil, false, err
	}
	recipients, err := normalizeRecipients(in.Recipients)
	if err != nil {
		return nil, false, err
	}
	// store the normalized form so per-recipient lookups match item rows
	data, err := json.Marshal(p)
	if err != nil {
		return nil, false, err
	}

	job = &Job{
		ID:             ulid.Make().String(),
		UserID:         in.UserID,
		DeviceID:       in.DeviceID,
		Type:           in.Type,
		Status:         StatusQueued,
		Data:           data,
		Progress:       Progress{Total: len(recipients)},
		RetryOf:        in.RetryOf,
		IdempotencyKey: in.IdempotencyKey,
	}

	items := make([]JobItem, 0, len(recipients))
	for _, rc := range recipients {
		items = append(items, JobItem{JobID: job.ID, Recipient: rc, Status: ItemPending})
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		return tx.CreateInBatches(&items, itemBatchSize).Error
	})
	if err != nil {
		if in.IdempotencyKey != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost a race with an identical request
			j, ferr := r.findByIdempotencyKey(ctx, in.UserID, *in.IdempotencyKey)
			if ferr == nil && j != nil {
				return j, false, nil
			}
		}
		return nil, false, err
	}
	return job, true, nil
}

func (r *Repo) findByIdempotencyKey(ctx context.Context, userID uint64, key string) (*Job, error) {
	var j Job
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.DB.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

// GetJobForUser hides jobs owned by someone else behind ErrNotFound.
func (r *Repo) GetJobForUser(ctx context.Context, id string, userID uint64) (*Job, error) {
	var j Job
	if err := r.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

// JobStatus reads only the status column; the dispatcher calls it per item.
func (r *Repo) JobStatus(ctx context.Context, id string) (Status, error) {
	var j Job
	if err := r.DB.WithContext(ctx).
		Select("status").
		Where("id = ?", id).
		Take(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return j.Status, nil
}

// FindNextQueued returns the oldest queued job, or nil when there is none.
func (r *Repo) FindNextQueued(ctx context.Context) (*Job, error) {
	var j Job
	err := r.DB.WithContext(ctx).
		Where("status = ?", StatusQueued).
		Order("created_at asc").
		Order("id asc").
		First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) ListByStatus(ctx context.Context, statuses ...Status) ([]Job, error) {
	var out []Job
	if err := r.DB.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at asc").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListJobs returns a user's jobs, newest first. Empty status means any.
func (r *Repo) ListJobs(ctx context.Context, userID uint64, status Status, limit int) ([]Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.DB.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []Job
	if err := q.Order("created_at desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func statusUpdates(to Status, errMsg *string, now time.Time) map[string]any {
	u := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	if errMsg != nil {
		u["error"] = *errMsg
	}
	switch {
	case to == StatusProcessing:
		u["started_at"] = gorm.Expr("COALESCE(started_at, ?)", now)
	case to.Terminal():
		u["completed_at"] = now
	}
	return u
}

// UpdateJobStatus writes status unconditionally.
func (r *Repo) UpdateJobStatus(ctx context.Context, id string, to Status, errMsg *string) error {
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(statusUpdates(to, errMsg, time.Now()))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus moves the job to `to` only if it is currently in one of
// `from`. It reports whether the row changed.
func (r *Repo) TransitionStatus(ctx context.Context, id string, from []Status, to Status, errMsg *string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(statusUpdates(to, errMsg, time.Now()))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateItemStatus records the terminal outcome of an item. Items that are
// no longer pending are left alone, so a row is written at most once.
func (r *Repo) UpdateItemStatus(ctx context.Context, itemID uint64, to ItemStatus, messageID, errMsg *string) (bool, error) {
	if to == ItemPending || !to.IsValid() {
		return false, invalid("status", "item status %q is not terminal", to)
	}
	res := r.DB.WithContext(ctx).Model(&JobItem{}).
		Where("id = ? AND status = ?", itemID, ItemPending).
		Updates(map[string]any{
			"status":       to,
			"message_id":   messageID,
			"error":        errMsg,
			"processed_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateProgress bumps the cached counters atomically.
func (r *Repo) UpdateProgress(ctx context.Context, jobID string, sent, failed int) error {
	return r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"progress_sent":   gorm.Expr("progress_sent + ?", sent),
			"progress_failed": gorm.Expr("progress_failed + ?", failed),
			"updated_at":      time.Now(),
		}).Error
}

// ListPendingItems returns the job's pending set in a stable order.
func (r *Repo) ListPendingItems(ctx context.Context, jobID string) ([]JobItem, error) {
	var out []JobItem
	if err := r.DB.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, ItemPending).
		Order("id asc").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListItems pages through a job's items by id. Empty status means any.
func (r *Repo) ListItems(ctx context.Context, jobID string, status ItemStatus, afterID uint64, limit int) ([]JobItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.DB.WithContext(ctx).Where("job_id = ?", jobID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if afterID > 0 {
		q = q.Where("id > ?", afterID)
	}
	var out []JobItem
	if err := q.Order("id asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) FailedRecipients(ctx context.Context, jobID string) ([]string, error) {
	var out []string
	if err := r.DB.WithContext(ctx).Model(&JobItem{}).
		Where("job_id = ? AND status = ?", jobID, ItemFailed).
		Order("id asc").
		Pluck("recipient", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type itemCount struct {
	Status ItemStatus
	N      int
}

// ReconcileProgress recomputes sent/failed from item rows and repairs the
// cached counters when they drifted. Do not call it while a dispatcher is
// running the same job.
func (r *Repo) ReconcileProgress(ctx context.Context, jobID string) (Progress, bool, error) {
	var (
		p       Progress
		changed bool
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var j Job
		if err := tx.First(&j, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var counts []itemCount
		if err := tx.Model(&JobItem{}).
			Select("status, count(*) as n").
			Where("job_id = ?", jobID).
			Group("status").
			Scan(&counts).Error; err != nil {
			return err
		}

		p = Progress{Total: j.Progress.Total}
		for _, c := range counts {
			switch c.Status {
			case ItemSent:
				p.Sent = c.N
			case ItemFailed:
				p.Failed = c.N
			}
		}
		if p == j.Progress {
			return nil
		}
		changed = true
		return tx.Model(&Job{}).
			Where("id = ?", jobID).
			Updates(map[string]any{
				"progress_sent":   p.Sent,
				"progress_failed": p.Failed,
				"updated_at":      time.Now(),
			}).Error
	})
	return p, changed, err
}
