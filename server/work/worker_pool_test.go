package work

import (
	"testing"

	"github.com/Daskott/sheguard/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *models.Store {
	t.Helper()

	store, err := models.OpenInMemory()
	require.Nil(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestEnqueue(t *testing.T) {
	store := newTestStore(t)
	workerPool := NewWorkerPool(store, MAX_CONCURRENCY, zap.NewNop().Sugar())

	err := workerPool.Enqueue(JobParams{
		Name:    "send_otp",
		Handler: "send_otp",
		Args: map[string]interface{}{
			"to":      "user@example.com",
			"channel": "email",
		},
	})
	assert.Nil(t, err)

	job, err := store.NextJob(models.ENQUEUED_JOB, false)
	require.Nil(t, err)
	assert.Equal(t, "send_otp", job.Name, "The job name should match the expected job name")
	assert.Contains(t, job.Args, "user@example.com", "Should contain the correct arg values")

	err = workerPool.Enqueue(JobParams{Name: " ", Handler: "send_otp"})
	assert.NotNil(t, err, "A job needs a name")
}

func TestRegisterHandler(t *testing.T) {
	workerPool := NewWorkerPool(newTestStore(t), 2, zap.NewNop().Sugar())
	noop := func(map[string]interface{}) error { return nil }

	assert.Nil(t, workerPool.RegisterHandler("noop", noop))
	assert.ErrorIs(t, workerPool.RegisterHandler("noop", noop), ErrDuplicateHandler)

	for _, w := range workerPool.workers {
		assert.Contains(t, w.handlers, "noop", "Every worker gets the handler")
	}
}
