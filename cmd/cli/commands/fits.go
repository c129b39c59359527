package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/multimessenger/nmmadb/internal/api/v1/handlers"
	"github.com/multimessenger/nmmadb/internal/db/models"
)

// Fit flag names
const (
	flagFitID     = "id"
	flagFitModel  = "model"
	flagFitObject = "object"
	flagFitData   = "data"
	flagFitState  = "state"
	flagFitLimit  = "limit"
	flagFitOffset = "offset"
)

// fitOutput represents the filtered output for a fit job
type fitOutput struct {
	ID             uint     `json:"id"`
	ObjectID       string   `json:"object_id"`
	ModelName      string   `json:"model_name"`
	State          string   `json:"state"`
	ClaimedBy      string   `json:"claimed_by,omitempty"`
	Error          string   `json:"error,omitempty"`
	LogBayesFactor *float64 `json:"log_bayes_factor,omitempty"`
	Created        string   `json:"created_at"`
}

func toFitOutput(job models.FitJob) fitOutput {
	return fitOutput{
		ID:             job.ID,
		ObjectID:       job.ObjectID,
		ModelName:      job.ModelName,
		State:          job.State.String(),
		ClaimedBy:      job.ClaimedBy,
		Error:          job.Error,
		LogBayesFactor: job.LogBayesFactor,
		Created:        job.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func printJSON(v interface{}) error {
	prettyJSON, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Println(string(prettyJSON))
	return nil
}

// GetFitsCmd returns the fits command group
func GetFitsCmd() *cobra.Command {
	return fitsCmd
}

func init() {
	fitsCmd.AddCommand(submitFitCmd)
	fitsCmd.AddCommand(getFitCmd)
	fitsCmd.AddCommand(listFitsCmd)
	fitsCmd.AddCommand(cancelFitCmd)

	// Add flags for submit
	submitFitCmd.Flags().StringP(flagFitModel, "m", "", "Light curve model name (e.g. TrPi2018, Bu2019lm)")
	submitFitCmd.Flags().StringP(flagFitObject, "c", "", "Candidate/object id")
	submitFitCmd.Flags().StringP(flagFitData, "d", "", "Path to a JSON photometry file ([[time, filter, mag, mag_err], ...])")
	_ = submitFitCmd.MarkFlagRequired(flagFitModel)
	_ = submitFitCmd.MarkFlagRequired(flagFitObject)
	_ = submitFitCmd.MarkFlagRequired(flagFitData)

	// Add flags for get
	getFitCmd.Flags().UintP(flagFitID, "i", 0, "Fit job ID")
	_ = getFitCmd.MarkFlagRequired(flagFitID)

	// Add flags for list
	listFitsCmd.Flags().String(flagFitState, "", "Filter by state (pending, claimed, running, succeeded, failed, cancelled)")
	listFitsCmd.Flags().Int(flagFitLimit, 0, "Limit the number of jobs returned")
	listFitsCmd.Flags().Int(flagFitOffset, 0, "Offset for paginating jobs")

	// Add flags for cancel
	cancelFitCmd.Flags().UintP(flagFitID, "i", 0, "Fit job ID")
	_ = cancelFitCmd.MarkFlagRequired(flagFitID)
}

var fitsCmd = &cobra.Command{
	Use:   "fits",
	Short: "Manage light curve fit jobs",
}

var submitFitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new light curve fit job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		modelName, err := cmd.Flags().GetString(flagFitModel)
		if err != nil {
			return fmt.Errorf("error getting model flag: %w", err)
		}
		objectID, err := cmd.Flags().GetString(flagFitObject)
		if err != nil {
			return fmt.Errorf("error getting object flag: %w", err)
		}
		dataPath, err := cmd.Flags().GetString(flagFitData)
		if err != nil {
			return fmt.Errorf("error getting data flag: %w", err)
		}

		raw, err := os.ReadFile(dataPath)
		if err != nil {
			return fmt.Errorf("error reading photometry file: %w", err)
		}
		var photometry [][]string
		if err := json.Unmarshal(raw, &photometry); err != nil {
			return fmt.Errorf("error parsing photometry file: %w", err)
		}

		submitted, err := apiClient.SubmitFit(context.Background(), handlers.CreateFitParams{
			ModelName:  modelName,
			ObjectID:   objectID,
			Photometry: photometry,
		})
		if err != nil {
			return fmt.Errorf("error submitting fit: %w", err)
		}

		return printJSON(submitted)
	},
}

var getFitCmd = &cobra.Command{
	Use:   "get",
	Short: "Get a specific fit job by its ID",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fitID, err := cmd.Flags().GetUint(flagFitID)
		if err != nil {
			return fmt.Errorf("error getting fit ID flag: %w", err)
		}
		if fitID == 0 {
			return fmt.Errorf("fit ID must be a positive number")
		}

		job, err := apiClient.GetFit(context.Background(), fitID)
		if err != nil {
			return fmt.Errorf("error getting fit: %w", err)
		}

		return printJSON(toFitOutput(job))
	},
}

var listFitsCmd = &cobra.Command{
	Use:   "list",
	Short: "List fit jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := &models.ListOptions{}

		if stateStr, err := cmd.Flags().GetString(flagFitState); err == nil && stateStr != "" {
			state, err := models.ParseJobState(stateStr)
			if err != nil {
				return err
			}
			opts.State = &state
		}
		opts.Limit, _ = cmd.Flags().GetInt(flagFitLimit)
		opts.Offset, _ = cmd.Flags().GetInt(flagFitOffset)

		jobs, err := apiClient.ListFits(context.Background(), opts)
		if err != nil {
			return fmt.Errorf("error listing fits: %w", err)
		}

		outputs := make([]fitOutput, len(jobs))
		for i, job := range jobs {
			outputs[i] = toFitOutput(job)
		}
		return printJSON(outputs)
	},
}

var cancelFitCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a pending fit job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fitID, err := cmd.Flags().GetUint(flagFitID)
		if err != nil {
			return fmt.Errorf("error getting fit ID flag: %w", err)
		}
		if fitID == 0 {
			return fmt.Errorf("fit ID must be a positive number")
		}

		if err := apiClient.CancelFit(context.Background(), fitID); err != nil {
			return fmt.Errorf("error cancelling fit: %w", err)
		}

		fmt.Printf("Fit job %d cancelled\n", fitID)
		return nil
	},
}
