package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/multimessenger/nmmadb/internal/config"
	"github.com/multimessenger/nmmadb/internal/db/models"
	"github.com/multimessenger/nmmadb/internal/logger"
)

// Fixed sampler settings for the light_curve_analysis run
const (
	sampleTMin  = "0"
	sampleTMax  = "7"
	sampleDT    = "0.1"
	errorBudget = "1.0"
	nlivePoints = "32"
	ebvMax      = "0.5724"
	// mjdEpochOffset converts a unix timestamp in days to MJD
	mjdEpochOffset = 40587.0
)

// NMMARunner shells out to the NMMA light_curve_analysis executable
// and reads its result files back from a scratch directory.
type NMMARunner struct {
	cfg config.EngineConfig
}

// NewNMMARunner creates a runner for the given engine configuration
func NewNMMARunner(cfg config.EngineConfig) *NMMARunner {
	return &NMMARunner{cfg: cfg}
}

var _ Runner = &NMMARunner{}

// analysisResult is the subset of the sampler's result file we record
type analysisResult struct {
	LogBayesFactor *float64        `json:"log_bayes_factor"`
	LogEvidence    float64         `json:"log_evidence"`
	Posterior      json.RawMessage `json:"posterior"`
}

// Run executes one fit. The photometry is written to a scratch data
// file, the prior is selected by model family, and the subprocess is
// killed if ctx is cancelled.
func (r *NMMARunner) Run(ctx context.Context, payload *models.FitPayload) (*models.FitResult, error) {
	triggerTime, err := triggerTimeMJD(payload.Photometry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrComputationFailed, err)
	}

	outDir, err := os.MkdirTemp("", "nmma-fit-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(outDir)
	}()

	dataFile, err := writeDataFile(outDir, payload.Photometry)
	if err != nil {
		return nil, err
	}

	label := payload.ObjectID + "_" + payload.ModelName
	args := []string{
		"--model", payload.ModelName,
		"--svd-path", r.cfg.SVDModelDir,
		"--outdir", outDir,
		"--label", label,
		"--trigger-time", strconv.FormatFloat(triggerTime, 'f', -1, 64),
		"--data", dataFile,
		"--prior", r.priorFile(payload.ModelName),
		"--tmin", sampleTMin,
		"--tmax", sampleTMax,
		"--dt", sampleDT,
		"--error-budget", errorBudget,
		"--nlive", nlivePoints,
		"--Ebv-max", ebvMax,
	}

	logger.InfoWithFields("Starting light curve analysis", map[string]interface{}{
		"object_id":  payload.ObjectID,
		"model_name": payload.ModelName,
		"outdir":     outDir,
	})

	cmd := exec.CommandContext(ctx, r.cfg.BinPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrComputationFailed, err, tail(string(out), 512))
	}

	return readResult(outDir, label)
}

// priorFile selects the prior by model family: TrPi2018 is the GRB
// afterglow model, everything else is fit with the kilonova prior.
// Trigger time is always a fitted parameter (the _t0 priors).
func (r *NMMARunner) priorFile(modelName string) string {
	if modelName == "TrPi2018" {
		return filepath.Join(r.cfg.PriorDir, "ZTF_grb_t0.prior")
	}
	return filepath.Join(r.cfg.PriorDir, "ZTF_kn_t0.prior")
}

// triggerTimeMJD derives the trigger time from the earliest finite
// detection in the photometry.
func triggerTimeMJD(photometry [][]string) (float64, error) {
	for _, row := range photometry {
		if len(row) < 4 {
			return 0, fmt.Errorf("photometry row has %d columns, want 4", len(row))
		}
		magErr, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid magnitude error %q: %v", row[3], err)
		}
		if math.IsInf(magErr, 0) {
			// Upper limit, not a detection
			continue
		}
		// Fractional seconds in the value are accepted by time.Parse
		// even though the layout omits them
		t, err := time.Parse("2006-01-02T15:04:05", row[0])
		if err != nil {
			return 0, fmt.Errorf("invalid observation time %q: %v", row[0], err)
		}
		mjd := float64(t.Unix())/86400.0 + mjdEpochOffset
		return mjd, nil
	}
	return 0, fmt.Errorf("photometry contains no finite detection")
}

// writeDataFile renders the photometry in the whitespace-separated
// format light_curve_analysis expects.
func writeDataFile(dir string, photometry [][]string) (string, error) {
	var sb strings.Builder
	for _, row := range photometry {
		sb.WriteString(strings.Join(row[:4], " "))
		sb.WriteString("\n")
	}
	path := filepath.Join(dir, "photometry.dat")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write photometry data file: %w", err)
	}
	return path, nil
}

// readResult loads the sampler output written under outDir.
func readResult(outDir, label string) (*models.FitResult, error) {
	raw, err := os.ReadFile(filepath.Join(outDir, label+"_result.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: missing result file: %v", ErrComputationFailed, err)
	}

	var res analysisResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: unreadable result file: %v", ErrComputationFailed, err)
	}

	logBayes := res.LogEvidence
	if res.LogBayesFactor != nil {
		logBayes = *res.LogBayesFactor
	}

	result := &models.FitResult{
		PosteriorSamples: res.Posterior,
		LogBayesFactor:   logBayes,
	}

	// The bestfit lightcurve file is optional output
	if lc, err := os.ReadFile(filepath.Join(outDir, label+"_bestfit_lightcurve.json")); err == nil {
		result.BestfitLightcurve = lc
	}

	return result, nil
}

// tail returns at most n trailing bytes of s
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
