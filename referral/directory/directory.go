package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/unionhall/referral-app/conf"
	"github.com/unionhall/referral-app/log"
	"github.com/unionhall/referral-app/referral/models"
	"github.com/unionhall/referral-app/referral/utils"
)

// Worker is a membership directory record. The directory is the system of
// record for standing; the referral engine only caches what a call returns.
type Worker struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Classification string `json:"classification"`
	GoodStanding   bool   `json:"good_standing"`
}

// Employer is a signatory employer record.
type Employer struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Signatory     bool   `json:"signatory"`
	AgreementType string `json:"agreement_type"`
}

type Client interface {
	GetWorker(ctx context.Context, workerID string) (*Worker, error)
	GetEmployer(ctx context.Context, employerID string) (*Employer, error)
}

type client struct {
	httpClient *retryablehttp.Client
	baseURL    string
}

var _ Client = &client{}

// NewClient builds a directory client from the environment. Calls are bounded
// by REFERRAL_DIRECTORY_TIMEOUT_MS and retried up to
// REFERRAL_DIRECTORY_RETRIES times with exponential backoff.
func NewClient() (Client, error) {
	baseURL := conf.GetEnv("REFERRAL_DIRECTORY_URL")
	if baseURL == "" {
		return nil, errors.New("invalid config, REFERRAL_DIRECTORY_URL must be set")
	}

	timeout := utils.GetEnvInt("REFERRAL_DIRECTORY_TIMEOUT_MS", 500)

	c := retryablehttp.NewClient()
	c.RetryMax = utils.GetEnvInt("REFERRAL_DIRECTORY_RETRIES", 3)
	c.HTTPClient.Timeout = time.Duration(timeout) * time.Millisecond
	c.Logger = nil
	c.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.API.WithFields(map[string]interface{}{
				"url":     req.URL.String(),
				"attempt": attempt,
			}).Warn("retrying directory call")
		}
	}

	return &client{httpClient: c, baseURL: baseURL}, nil
}

func (c *client) GetWorker(ctx context.Context, workerID string) (*Worker, error) {
	var w Worker
	if err := c.get(ctx, fmt.Sprintf("/v1/workers/%s", workerID), "worker", workerID, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *client) GetEmployer(ctx context.Context, employerID string) (*Employer, error) {
	var e Employer
	if err := c.get(ctx, fmt.Sprintf("/v1/employers/%s", employerID), "employer", employerID, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *client) get(ctx context.Context, path, entity, id string, out interface{}) error {
	req, err := retryablehttp.NewRequest("GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "directory call failed for %s %s", entity, id)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return &models.NotFoundError{Entity: entity, ID: id}
	default:
		return errors.Errorf("directory returned %d for %s %s", resp.StatusCode, entity, id)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
