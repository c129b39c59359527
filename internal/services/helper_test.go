package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/multimessenger/nmmadb/internal/db/models"
	"github.com/multimessenger/nmmadb/internal/db/repos"
)

// newTestRepo creates a fit job repository over an in-memory database
func newTestRepo(t *testing.T) *repos.FitJobRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_json=1"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.FitJob{}))
	return repos.NewFitJobRepository(db)
}

// fakeRunner is an engine.Runner backed by a function
type fakeRunner struct {
	run func(ctx context.Context, payload *models.FitPayload) (*models.FitResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, payload *models.FitPayload) (*models.FitResult, error) {
	return f.run(ctx, payload)
}

// enqueueTestJob inserts a pending job directly through the repository
func enqueueTestJob(t *testing.T, repo *repos.FitJobRepository, objectID string) *models.FitJob {
	t.Helper()

	payload, err := json.Marshal(models.FitPayload{
		ModelName: "Bu2019lm",
		ObjectID:  objectID,
		Photometry: [][]string{
			{"2021-04-22T06:24:58", "g", "19.54", "0.15"},
		},
	})
	require.NoError(t, err)

	job := &models.FitJob{
		ObjectID:  objectID,
		ModelName: "Bu2019lm",
		Payload:   payload,
		State:     models.JobStatePending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}
