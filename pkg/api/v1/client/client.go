// Package client provides the API client for interacting with the nmmadb API
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/multimessenger/nmmadb/internal/api/v1/handlers"
	"github.com/multimessenger/nmmadb/internal/api/v1/routes"
	"github.com/multimessenger/nmmadb/internal/db/models"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// Client is the interface for API client
type Client interface {
	// Health Check
	HealthCheck(ctx context.Context) (map[string]string, error)

	// Fit job endpoints
	SubmitFit(ctx context.Context, params handlers.CreateFitParams) (SubmittedFit, error)
	GetFit(ctx context.Context, id uint) (models.FitJob, error)
	ListFits(ctx context.Context, opts *models.ListOptions) ([]models.FitJob, error)
	CancelFit(ctx context.Context, id uint) error
}

var _ Client = &APIClient{}

// SubmittedFit is the acknowledgement returned for a submitted fit
type SubmittedFit struct {
	ID    uint            `json:"id"`
	State models.JobState `json:"state"`
}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: routes.DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	return &APIClient{
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
	}, nil
}

// envelope mirrors the API response shape with the payload left raw
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	fullURL := c.baseURL + endpoint

	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	// Set timeout from context or client default
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")

	if body != nil {
		agent.JSON(body)
	}

	return agent, nil
}

// doRequest sends the HTTP request and decodes the response envelope's
// data into v when v is non-nil
func (c *APIClient) doRequest(agent *fiber.Agent, v interface{}) error {
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("error sending request: %w", errs[0])
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}

	if statusCode >= http.StatusBadRequest || env.Status == "error" {
		return fmt.Errorf("request failed (%d): %s", statusCode, env.Message)
	}

	if v != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("error decoding response data: %w", err)
		}
	}
	return nil
}

// HealthCheck checks the API health endpoint
func (c *APIClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	agent, err := c.createAgent(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}

	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("error sending request: %w", errs[0])
	}
	if statusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed with status %d", statusCode)
	}

	var health map[string]string
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return health, nil
}

// SubmitFit submits a new fit job
func (c *APIClient) SubmitFit(ctx context.Context, params handlers.CreateFitParams) (SubmittedFit, error) {
	var submitted SubmittedFit
	agent, err := c.createAgent(ctx, http.MethodPost, routes.APIv1Prefix+"/fits", params)
	if err != nil {
		return submitted, err
	}
	err = c.doRequest(agent, &submitted)
	return submitted, err
}

// GetFit retrieves a fit job by ID
func (c *APIClient) GetFit(ctx context.Context, id uint) (models.FitJob, error) {
	var job models.FitJob
	agent, err := c.createAgent(ctx, http.MethodGet, fmt.Sprintf("%s/fits/%d", routes.APIv1Prefix, id), nil)
	if err != nil {
		return job, err
	}
	err = c.doRequest(agent, &job)
	return job, err
}

// ListFits lists fit jobs with optional state filtering and pagination
func (c *APIClient) ListFits(ctx context.Context, opts *models.ListOptions) ([]models.FitJob, error) {
	query := url.Values{}
	if opts != nil {
		if opts.State != nil {
			query.Set("state", opts.State.String())
		}
		if opts.Limit > 0 {
			query.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			query.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	endpoint := routes.APIv1Prefix + "/fits"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	agent, err := c.createAgent(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var jobs []models.FitJob
	err = c.doRequest(agent, &jobs)
	return jobs, err
}

// CancelFit cancels a pending or claimed fit job
func (c *APIClient) CancelFit(ctx context.Context, id uint) error {
	agent, err := c.createAgent(ctx, http.MethodDelete, fmt.Sprintf("%s/fits/%d", routes.APIv1Prefix, id), nil)
	if err != nil {
		return err
	}
	return c.doRequest(agent, nil)
}
