// Package extsync pushes approved task changes to the external task
// provider. The push is best-effort: a failure is logged and reported as a
// flag on the approval response, and never rolls back the local mutation.
package extsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/pkg/models"
)

// Adapter pushes task updates to the external provider over HTTP.
type Adapter struct {
	endpoint string
	token    string
	client   *http.Client
	enabled  bool
}

// NewAdapter builds the adapter from config. A disabled adapter reports
// every push as skipped.
func NewAdapter(cfg config.SyncConfig) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
		enabled:  cfg.Enabled && cfg.Endpoint != "",
	}
}

// Enabled reports whether pushes are configured.
func (a *Adapter) Enabled() bool { return a.enabled }

// pushPayload is the subset of task fields the provider accepts.
type pushPayload struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    int        `json:"priority"`
	Tags        []string   `json:"tags,omitempty"`
	Quadrant    string     `json:"quadrant,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	Completed   bool       `json:"completed"`
	SyncVersion int64      `json:"sync_version"`
	ModifiedAt  time.Time  `json:"modified_at"`
}

// Push sends the task's current state to the provider, retrying transient
// failures with capped exponential backoff. Callers record the returned
// error as a sync flag; it must not fail the operation that triggered it.
func (a *Adapter) Push(ctx context.Context, task *models.Task) error {
	if !a.enabled {
		return fmt.Errorf("external sync not configured")
	}
	if task.ExternalID == "" {
		return fmt.Errorf("task %s is not linked to the external provider", task.ID)
	}

	body, err := json.Marshal(pushPayload{
		Title:       task.Title,
		Description: task.Description,
		Priority:    task.Priority,
		Tags:        task.Tags,
		Quadrant:    string(task.Quadrant),
		StartDate:   task.StartDate,
		Completed:   task.Completed,
		SyncVersion: task.SyncVersion,
		ModifiedAt:  task.LastModifiedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal push: %w", err)
	}

	url := a.endpoint + "/tasks/" + task.ExternalID

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if a.token != "" {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		err = fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 15 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		log.Warn().
			Err(err).
			Str("task", task.ID).
			Str("external_id", task.ExternalID).
			Msg("External sync push failed")
		return err
	}

	log.Debug().Str("task", task.ID).Str("external_id", task.ExternalID).Msg("External sync push succeeded")
	return nil
}
