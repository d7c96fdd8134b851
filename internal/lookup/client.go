// Package lookup resolves patient identifiers to display names over the
// clinic REST API. It backs the realtime normalizer's enrichment step.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/meridian-eyecare/queuepulse/internal/realtime"
)

const defaultRequestTimeout = 5 * time.Second

var errMissingBaseURL = errors.New("lookup: base url is required")

// ClientConfig configures the patient lookup client.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client fetches patient records over HTTP. It satisfies
// realtime.PatientDirectory.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

type patientRecord struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
}

// NewClient constructs a patient lookup client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Client{http: httpClient, logger: logger}, nil
}

// LookupPatient resolves one patient identifier. A missing record maps to
// realtime.ErrPatientNotFound so callers can keep their placeholder name
// without treating the miss as an outage.
func (c *Client) LookupPatient(ctx context.Context, patientID string) (realtime.PatientName, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return realtime.PatientName{}, realtime.ErrPatientNotFound
	}

	var record patientRecord
	response, err := c.http.R().
		SetContext(ctx).
		SetResult(&record).
		SetPathParam("patientID", patientID).
		Get("/patients/{patientID}")
	if err != nil {
		return realtime.PatientName{}, fmt.Errorf("lookup patient %s: %w", patientID, err)
	}

	switch response.StatusCode() {
	case http.StatusOK:
		return realtime.PatientName{
			First: record.FirstName,
			Last:  record.LastName,
			Full:  record.FullName,
		}, nil
	case http.StatusNotFound:
		return realtime.PatientName{}, realtime.ErrPatientNotFound
	default:
		return realtime.PatientName{}, fmt.Errorf("lookup patient %s: unexpected status %d",
			patientID, response.StatusCode())
	}
}
