// Package agent provides the HTTP client for per-node agent APIs. The
// panel never talks to container runtimes directly: every lifecycle
// operation is a synchronous REST call to the agent of the node hosting
// the instance, authenticated with basic auth and the node's API key.
//
// Calls carry a fixed per-operation timeout and are never retried. A
// failed call leaves local state untouched; the caller decides what, if
// anything, to persist.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/portside/portside/internal/config"
	"github.com/portside/portside/models"
)

// basicAuthUser is the fixed username the agent protocol pairs with a
// node's API key.
const basicAuthUser = "Skyport"

// RemoteError describes a failed or malformed agent response.
type RemoteError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("agent %s %s: status %d: %s", e.Op, e.URL, e.StatusCode, e.Body)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Client calls node agent APIs.
type Client struct {
	http   *http.Client
	config *config.Config
}

// NewClient creates a node agent client. Timeouts are applied per
// operation from the agent configuration section.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		http:   &http.Client{},
		config: cfg,
	}
}

// debugLog logs a message only if debug mode is enabled in config
func (c *Client) debugLog(format string, args ...interface{}) {
	if c.config != nil && c.config.Server.Debug {
		log.Printf(format, args...)
	}
}

// containerResponse is the agent's reply to mutating calls. Depending on
// the endpoint the new container id arrives as either field.
type containerResponse struct {
	ContainerID    string `json:"containerId"`
	NewContainerID string `json:"newContainerId"`
}

func (r *containerResponse) id() string {
	if r.NewContainerID != "" {
		return r.NewContainerID
	}
	return r.ContainerID
}

func endpoint(node *models.Node, operation, containerID string) string {
	return fmt.Sprintf("http://%s:%d/instances/%s/%s", node.Address, node.Port, operation, containerID)
}

// Reinstall asks the node agent to reinstall a container with the same
// image and resources. It returns the new container id.
func (c *Client) Reinstall(ctx context.Context, node *models.Node, containerID string, req *DeployRequest) (string, error) {
	return c.mutate(ctx, node, http.MethodPost, "reinstall", containerID, req, c.config.Agent.ReinstallTimeout)
}

// Edit asks the node agent to apply resource or image changes to a
// container. It returns the new container id.
func (c *Client) Edit(ctx context.Context, node *models.Node, containerID string, req *EditRequest) (string, error) {
	return c.mutate(ctx, node, http.MethodPut, "edit", containerID, req, c.config.Agent.EditTimeout)
}

// Redeploy asks the node agent to redeploy a container onto a new image.
// It returns the new container id.
func (c *Client) Redeploy(ctx context.Context, node *models.Node, containerID string, req *DeployRequest) (string, error) {
	return c.mutate(ctx, node, http.MethodPost, "redeploy", containerID, req, c.config.Agent.RedeployTimeout)
}

// NotifyRename tells the node agent about a renamed instance. The local
// rename is already committed when this runs; callers log a failure and
// move on.
func (c *Client) NotifyRename(ctx context.Context, node *models.Node, containerID, newName string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Agent.RenameTimeout)
	defer cancel()

	url := endpoint(node, "rename", containerID)
	resp, err := c.do(ctx, http.MethodPost, url, node.APIKey, &renameRequest{Name: newName})
	if err != nil {
		return &RemoteError{Op: "rename", URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RemoteError{Op: "rename", URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// mutate performs one agent call and extracts the resulting container id.
func (c *Client) mutate(ctx context.Context, node *models.Node, method, operation, containerID string, body interface{}, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := endpoint(node, operation, containerID)
	c.debugLog("agent: %s %s", method, url)

	resp, err := c.do(ctx, method, url, node.APIKey, body)
	if err != nil {
		return "", &RemoteError{Op: operation, URL: url, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RemoteError{Op: operation, URL: url, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var result containerResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &RemoteError{Op: operation, URL: url, StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("malformed response: %w", err)}
	}
	if result.id() == "" {
		return "", &RemoteError{Op: operation, URL: url, StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("response missing container id")}
	}

	return result.id(), nil
}

func (c *Client) do(ctx context.Context, method, url, apiKey string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(basicAuthUser, apiKey)

	return c.http.Do(req)
}
