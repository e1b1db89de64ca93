package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/models"
)

// Tables names the remote relations.
type Tables struct {
	Scars          string
	Threads        string
	Sessions       string
	Usage          string
	SearchFunction string
}

// DefaultTables returns the stock relation names.
func DefaultTables() Tables {
	return Tables{
		Scars:          "scars",
		Threads:        "threads",
		Sessions:       "sessions",
		Usage:          "scar_usage",
		SearchFunction: "match_scars",
	}
}

const pageSize = 1000

// RESTClient implements Store against a PostgREST-style HTTP API.
type RESTClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	tables     Tables
}

// NewRESTClient creates a client for the API at baseURL (the part before /rest/v1).
func NewRESTClient(baseURL, apiKey string, tables Tables, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		tables:     tables,
	}
}

type threadRow struct {
	ID                string              `json:"id"`
	Project           string              `json:"project"`
	Text              string              `json:"text"`
	Status            models.ThreadStatus `json:"status"`
	CreatedAt         time.Time           `json:"created_at"`
	ResolvedAt        *time.Time          `json:"resolved_at,omitempty"`
	ResolvedBySession string              `json:"resolved_by_session,omitempty"`
	ResolutionNote    string              `json:"resolution_note,omitempty"`
	LinearIssue       string              `json:"linear_issue,omitempty"`
	LastTouchedAt     *time.Time          `json:"last_touched_at,omitempty"`
	TouchCount        int                 `json:"touch_count,omitempty"`
	SourceSession     string              `json:"source_session,omitempty"`
}

func toRow(project string, t models.Thread) threadRow {
	return threadRow{
		ID:                t.ID,
		Project:           project,
		Text:              t.Text,
		Status:            t.Status,
		CreatedAt:         t.CreatedAt,
		ResolvedAt:        t.ResolvedAt,
		ResolvedBySession: t.ResolvedBySession,
		ResolutionNote:    t.ResolutionNote,
		LinearIssue:       t.LinearIssue,
		LastTouchedAt:     t.LastTouchedAt,
		TouchCount:        t.TouchCount,
		SourceSession:     t.SourceSession,
	}
}

// ListScars pages through the scars table.
func (c *RESTClient) ListScars(ctx context.Context, project string) ([]models.Scar, error) {
	var all []models.Scar
	for offset := 0; ; offset += pageSize {
		query := url.Values{}
		query.Set("select", "*")
		query.Set("project", "eq."+project)
		query.Set("order", "id.asc")
		query.Set("limit", strconv.Itoa(pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var page []models.Scar
		if _, err := c.do(ctx, http.MethodGet, c.tables.Scars, query, nil, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// CountScars reads the exact count from the Content-Range header.
func (c *RESTClient) CountScars(ctx context.Context, project string) (int, error) {
	query := url.Values{}
	query.Set("select", "id")
	query.Set("project", "eq."+project)
	query.Set("limit", "1")

	headers := map[string]string{"Prefer": "count=exact"}
	resp, err := c.do(ctx, http.MethodGet, c.tables.Scars, query, headers, nil, nil)
	if err != nil {
		return 0, err
	}
	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

// parseContentRangeTotal extracts the total from "0-0/42" or "*/0".
func parseContentRangeTotal(header string) (int, error) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("missing total in Content-Range %q", header)
	}
	total := header[idx+1:]
	if total == "*" {
		return 0, fmt.Errorf("server did not report a count")
	}
	return strconv.Atoi(total)
}

// SearchScars calls the similarity search function.
func (c *RESTClient) SearchScars(ctx context.Context, project, query string, embedding []float64, k int) ([]models.ScarMatch, error) {
	body := map[string]interface{}{
		"query_text":  query,
		"match_count": k,
		"project":     project,
	}
	if embedding != nil {
		body["query_embedding"] = embedding
	}

	var matches []models.ScarMatch
	if _, err := c.do(ctx, http.MethodPost, "rpc/"+c.tables.SearchFunction, nil, nil, body, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// UpsertThreads merges threads by primary key.
func (c *RESTClient) UpsertThreads(ctx context.Context, project string, threads []models.Thread) error {
	if len(threads) == 0 {
		return nil
	}
	rows := make([]threadRow, 0, len(threads))
	for _, t := range threads {
		rows = append(rows, toRow(project, t))
	}
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	_, err := c.do(ctx, http.MethodPost, c.tables.Threads, nil, headers, rows, nil)
	return err
}

// ListThreads returns the project's threads, oldest first.
func (c *RESTClient) ListThreads(ctx context.Context, project string) ([]models.Thread, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("project", "eq."+project)
	query.Set("order", "created_at.asc")

	var threads []models.Thread
	if _, err := c.do(ctx, http.MethodGet, c.tables.Threads, query, nil, nil, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

// ClosedSessions returns recent closed sessions, newest first.
func (c *RESTClient) ClosedSessions(ctx context.Context, project string, limit int, since time.Time) ([]models.ClosedSession, error) {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("project", "eq."+project)
	query.Set("closed_at", "gte."+since.UTC().Format(time.RFC3339))
	query.Set("order", "closed_at.desc")
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var sessions []models.ClosedSession
	if _, err := c.do(ctx, http.MethodGet, c.tables.Sessions, query, nil, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpsertSession records a closed session keyed by session_id.
func (c *RESTClient) UpsertSession(ctx context.Context, session models.ClosedSession) error {
	if session.OpenThreads == nil {
		session.OpenThreads = []models.Thread{}
	}
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	_, err := c.do(ctx, http.MethodPost, c.tables.Sessions, nil, headers, []models.ClosedSession{session}, nil)
	return err
}

// RecordScarUsage inserts usage rows.
func (c *RESTClient) RecordScarUsage(ctx context.Context, usage []models.ScarUsage) error {
	if len(usage) == 0 {
		return nil
	}
	headers := map[string]string{"Prefer": "return=minimal"}
	_, err := c.do(ctx, http.MethodPost, c.tables.Usage, nil, headers, usage, nil)
	return err
}

// do performs one request. Transport failures and non-2xx answers become
// REMOTE_REQUEST errors carrying the status (0 for transport failures).
func (c *RESTClient) do(ctx context.Context, method, path string, query url.Values, headers map[string]string, body, out interface{}) (*http.Response, error) {
	endpoint := c.baseURL + "/rest/v1/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.RemoteRequest(method, path, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.RemoteRequest(method, path, resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, errors.RemoteRequest(method, path, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return resp, nil
}
