package work

import (
	"errors"
	"fmt"
	"time"

	"github.com/Daskott/sheguard/colors"
	"github.com/Daskott/sheguard/server/models"
	"go.uber.org/zap"
)

// StuckJobAge is how long a job may stay in-progress before it is requeued.
var StuckJobAge = 10 * time.Minute

type requeuer struct {
	store    JobStore
	stopChan chan struct{}
	logg     *zap.SugaredLogger
}

func newRequeuer(store JobStore, logg *zap.SugaredLogger) *requeuer {
	return &requeuer{
		store:    store,
		stopChan: make(chan struct{}),
		logg:     logg,
	}
}

// start starts the requeuer loop that pulls jobs from 'in-progress'
// that are stuck(i.e stayed too long in-progress) and requeue them
func (r *requeuer) start() {
	go r.loop()
}

func (r *requeuer) stop() {
	r.stopChan <- struct{}{}
}

func (r *requeuer) loop() {
	var job *models.Job
	var err error

	sleepBackOff := 5 * time.Second
	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	r.logg.Infof("Starting %s job requeuer", models.IN_PROGRESS_JOB)
	for {
		select {
		case <-r.stopChan:
			r.logg.Infof("Stopping %s job requeuer", models.IN_PROGRESS_JOB)
			return
		case <-rateLimiter.C:
			job, err = r.store.JobLastUpdatedBefore(StuckJobAge, models.IN_PROGRESS_JOB)

			if errors.Is(err, models.ErrRecordNotFound) {
				rateLimiter.Reset(sleepBackOff)
				continue
			}

			if err != nil {
				r.logError(err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			r.requeue(job)
			rateLimiter.Reset(DefaultTickerDuration)
		}
	}
}

func (r *requeuer) requeue(job *models.Job) {
	jobStatus, err := r.store.FindJobStatus(models.ENQUEUED_JOB)
	if err != nil {
		r.logError(err)
		return
	}

	update := make(map[string]interface{})
	update["claimed"] = false
	update["job_status_id"] = jobStatus.ID
	update["enqueued_at"] = time.Now()

	err = r.store.UpdateJob(job.ID, update)
	if err != nil {
		r.logError(err)
		return
	}

	r.logInfof("job with id=%v requeued", job.ID)
}

func (r *requeuer) logInfof(template string, args ...interface{}) {
	prefix := colors.Yellow(fmt.Sprintf("[%s job requeuer] ", models.IN_PROGRESS_JOB))
	r.logg.Infof(prefix+template, args...)
}

func (r *requeuer) logError(err error) {
	prefix := colors.Red(fmt.Sprintf("[%s job requeuer] ", models.IN_PROGRESS_JOB))
	r.logg.Errorf("%v%v", prefix, err)
}
