package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrDuplicateJob = errors.New("job with the given name already exists in queue")

const jobStatusJoin = "INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id AND job_statuses.name = ?"

type Job struct {
	BaseModel
	Fails       int        `json:"fails"`
	Name        string     `json:"name"`
	Handler     string     `json:"handler"`
	Args        string     `json:"-"`
	LastError   string     `json:"last_error"`
	Claimed     bool       `json:"claimed" gorm:"default:false"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	JobStatusID uint       `json:"job_status_id"`
	JobStatus   *JobStatus `json:"status,omitempty"`
}

// CreateJob adds a job to the 'enqueued' queue. When unique is set and a job
// with the same name is already enqueued or in-progress, ErrDuplicateJob is
// returned instead.
func (s *Store) CreateJob(name string, handler string, args string, unique bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		enqueued := JobStatus{}
		err := tx.First(&enqueued, "name = ?", ENQUEUED_JOB).Error
		if err != nil {
			return err
		}

		if unique {
			var count int64
			err = tx.Model(&Job{}).
				Joins("INNER JOIN job_statuses ON job_statuses.id = jobs.job_status_id").
				Where("jobs.name = ? AND job_statuses.name IN ?", name, []string{ENQUEUED_JOB, IN_PROGRESS_JOB}).
				Count(&count).Error
			if err != nil {
				return err
			}

			if count > 0 {
				return ErrDuplicateJob
			}
		}

		return tx.Create(&Job{
			Name:        name,
			Handler:     handler,
			Args:        args,
			EnqueuedAt:  time.Now(),
			JobStatusID: enqueued.ID,
		}).Error
	})
}

// NextJob returns the oldest job in the given queue with the given claim state.
func (s *Store) NextJob(status string, claimed bool) (*Job, error) {
	job := Job{}
	err := s.db.Joins(jobStatusJoin, status).
		Where("claimed = ?", claimed).
		Order("jobs.enqueued_at asc, jobs.id asc").
		First(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// ClaimJob moves an unclaimed job to 'in-progress'. It returns false when
// another worker got to it first.
func (s *Store) ClaimJob(id uint) (bool, error) {
	inProgress, err := s.FindJobStatus(IN_PROGRESS_JOB)
	if err != nil {
		return false, err
	}

	res := s.db.Model(&Job{}).Where("id = ? AND claimed = ?", id, false).Updates(map[string]interface{}{
		"claimed":       true,
		"job_status_id": inProgress.ID,
	})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateJob(id uint, data map[string]interface{}) error {
	return s.db.Model(&Job{}).Where("id = ?", id).Updates(data).Error
}

func (s *Store) FindJob(id uint) (*Job, error) {
	job := Job{}
	err := s.db.Preload("JobStatus").First(&job, id).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// JobLastUpdatedBefore returns a job in the given queue that has not been
// touched for at least 'age'.
func (s *Store) JobLastUpdatedBefore(age time.Duration, status string) (*Job, error) {
	jobStatus, err := s.FindJobStatus(status)
	if err != nil {
		return nil, err
	}

	job := Job{}
	err = s.db.Where("job_status_id = ? AND updated_at <= ?", jobStatus.ID, time.Now().Add(-age)).
		Order("id asc").First(&job).Error
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func (s *Store) FetchJobsByStatus(status string, page int) ([]Job, *Paging, error) {
	var total int64
	jobs := []Job{}

	err := s.db.Joins(jobStatusJoin, status).Model(&Job{}).Count(&total).Error
	if err != nil {
		return nil, nil, err
	}

	err = s.db.Scopes(paginate(page, MAX_PAGE_SIZE)).
		Preload("JobStatus").Order("jobs.id desc").
		Joins(jobStatusJoin, status).Find(&jobs).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	return jobs, newPaging(int64(page), MAX_PAGE_SIZE, total), nil
}

func (s *Store) CurrentJobsStats() (*JobsStats, error) {
	stats := JobsStats{}
	counters := map[string]*int64{
		ENQUEUED_JOB:    &stats.EnqueuedJobCount,
		IN_PROGRESS_JOB: &stats.InProgressJobCount,
		SUCCESSFUL_JOB:  &stats.SuccessfulJobCount,
		DEAD_JOB:        &stats.DeadJobCount,
	}

	for status, counter := range counters {
		err := s.db.Joins(jobStatusJoin, status).Model(&Job{}).Count(counter).Error
		if err != nil {
			return nil, err
		}
	}

	return &stats, nil
}
