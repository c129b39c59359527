package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJobState(t *testing.T) {
	for _, want := range []JobState{
		JobStatePending, JobStateClaimed, JobStateRunning,
		JobStateSucceeded, JobStateFailed, JobStateCancelled,
	} {
		got, err := ParseJobState(want.String())
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	got, err := ParseJobState("bogus")
	require.Error(t, err)
	require.Equal(t, JobStateUnknown, got)
}

func TestJobStateTerminal(t *testing.T) {
	require.False(t, JobStatePending.Terminal())
	require.False(t, JobStateClaimed.Terminal())
	require.False(t, JobStateRunning.Terminal())
	require.True(t, JobStateSucceeded.Terminal())
	require.True(t, JobStateFailed.Terminal())
	require.True(t, JobStateCancelled.Terminal())
}

func TestJobStateUnmarshalRejectsUnknown(t *testing.T) {
	var state JobState
	require.NoError(t, json.Unmarshal([]byte(`"running"`), &state))
	require.Equal(t, JobStateRunning, state)

	require.Error(t, json.Unmarshal([]byte(`"bogus"`), &state))
	require.Error(t, json.Unmarshal([]byte(`42`), &state))
}

func TestFitJobValidate(t *testing.T) {
	job := &FitJob{ObjectID: "ZTF21abcdefg", ModelName: "Bu2019lm"}
	require.NoError(t, job.Validate())

	require.Error(t, (&FitJob{ModelName: "Bu2019lm"}).Validate())
	require.Error(t, (&FitJob{ObjectID: "ZTF21abcdefg"}).Validate())
}

func TestFitJobBeforeCreate(t *testing.T) {
	job := &FitJob{ObjectID: "ZTF21abcdefg", ModelName: "Bu2019lm"}
	require.NoError(t, job.BeforeCreate(nil))
	require.Equal(t, JobStatePending, job.State)

	// An explicit state is left alone
	job = &FitJob{ObjectID: "ZTF21abcdefg", ModelName: "Bu2019lm", State: JobStateRunning}
	require.NoError(t, job.BeforeCreate(nil))
	require.Equal(t, JobStateRunning, job.State)

	require.Error(t, (&FitJob{}).BeforeCreate(nil))
}

func TestFitPayloadRoundTrip(t *testing.T) {
	payload := FitPayload{
		ModelName: "TrPi2018",
		ObjectID:  "ZTF21abcdefg",
		Photometry: [][]string{
			{"2021-04-03T00:53:59", "ztfg", "19.17", "0.07"},
		},
	}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded FitPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, payload, decoded)
}
