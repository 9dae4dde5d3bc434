// Package azdo is a minimal Azure DevOps REST client covering the three calls
// the collector needs: WIQL changed-ID queries, batched snapshot fetches and
// per-item revision history.
package azdo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MertK96/azure-boardmetrics/internal/config"
)

const apiVersion = "7.1"

// batchLimit is the server-side cap on ids per workitemsbatch call.
const batchLimit = 200

// APIError is a non-2xx response from the Azure DevOps API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 500 {
		body = body[:500]
	}
	return fmt.Sprintf("azdo: http %d: %s", e.StatusCode, body)
}

type Client struct {
	baseURL    string
	project    string
	authHeader string
	opt        config.AzdoConfig
	httpClient *http.Client
}

// NewClient builds a client from the Azure DevOps section of the config.
func NewClient(opt config.AzdoConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	token := base64.StdEncoding.EncodeToString([]byte(":" + opt.Pat))
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opt.OrganizationURL), "/"),
		project:    opt.Project,
		authHeader: "Basic " + token,
		opt:        opt,
		httpClient: httpClient,
	}
}

// Configured reports whether the required connection settings are present.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.project != "" && c.opt.Pat != ""
}

func escapeWIQL(s string) string { return strings.ReplaceAll(s, "'", "''") }

// QueryChangedIDs returns the ids of items changed on or after the calendar
// date of since, excluding the Removed state. WIQL accepts date precision
// only, so the time of day is discarded.
func (c *Client) QueryChangedIDs(ctx context.Context, since time.Time) ([]int, error) {
	sinceDate := since.UTC().Format("2006-01-02")
	wiql := fmt.Sprintf(`
SELECT [System.Id]
FROM WorkItems
WHERE
    [System.TeamProject] = '%s'
    AND [System.ChangedDate] >= '%s'
    AND [System.State] <> 'Removed'
ORDER BY [System.ChangedDate] DESC`, escapeWIQL(c.project), sinceDate)

	var out struct {
		WorkItems []struct {
			ID int `json:"id"`
		} `json:"workItems"`
	}
	path := fmt.Sprintf("/%s/_apis/wit/wiql?api-version=%s", c.project, apiVersion)
	if err := c.doJSON(ctx, http.MethodPost, path, map[string]any{"query": wiql}, &out); err != nil {
		return nil, fmt.Errorf("wiql query: %w", err)
	}

	ids := make([]int, 0, len(out.WorkItems))
	for _, wi := range out.WorkItems {
		ids = append(ids, wi.ID)
	}
	return ids, nil
}

// FetchBatch returns snapshots for up to 200 ids in one workitemsbatch call.
func (c *Client) FetchBatch(ctx context.Context, ids []int) ([]WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > batchLimit {
		ids = ids[:batchLimit]
	}

	// Board column / lane fields are not present in every project and make
	// the batch call fail with 400, so only the safe set plus the two
	// configured fields is requested.
	fields := []string{
		"System.Id",
		"System.Title",
		"System.WorkItemType",
		"System.State",
		"System.AssignedTo",
		"System.CreatedDate",
		"System.ChangedDate",
		"System.IterationPath",
		"System.Tags",
	}
	for _, extra := range []string{c.opt.EffortField, c.opt.DueDateField} {
		if extra != "" && !contains(fields, extra) {
			fields = append(fields, extra)
		}
	}

	var out struct {
		Value []json.RawMessage `json:"value"`
	}
	path := fmt.Sprintf("/%s/_apis/wit/workitemsbatch?api-version=%s", c.project, apiVersion)
	body := map[string]any{"ids": ids, "fields": fields}
	if err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("workitemsbatch: %w", err)
	}

	items := make([]WorkItem, 0, len(out.Value))
	for _, raw := range out.Value {
		wi, err := parseWorkItem(raw)
		if err != nil {
			continue
		}
		items = append(items, wi)
	}
	return items, nil
}

// ListRevisions returns the full ordered revision history for one item.
func (c *Client) ListRevisions(ctx context.Context, id int) ([]Revision, error) {
	var out struct {
		Value []json.RawMessage `json:"value"`
	}
	path := fmt.Sprintf("/%s/_apis/wit/workItems/%d/revisions?api-version=%s", c.project, id, apiVersion)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("revisions for %d: %w", id, err)
	}

	revs := make([]Revision, 0, len(out.Value))
	for _, raw := range out.Value {
		revs = append(revs, parseRevision(raw, c.opt.EffortField, c.opt.DueDateField))
	}
	return revs, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.authHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
