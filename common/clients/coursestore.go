package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/openlearn/coursestore/common/logger"
)

// CoursestoreClient talks to the coursestore API. Authentication rides
// the context via WithUserID.
type CoursestoreClient struct {
	baseURL string
	http    *HTTPClient
	log     *logger.Logger
}

// NewCoursestoreClient creates a new coursestore client
func NewCoursestoreClient(baseURL string, log *logger.Logger) *CoursestoreClient {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}
	return &CoursestoreClient{
		baseURL: baseURL,
		http:    NewHTTPClient(httpClient, log),
		log:     log,
	}
}

// BlockInfo is the client-side view of a block
type BlockInfo struct {
	Key       string                 `json:"key"`
	Category  string                 `json:"category"`
	Fields    map[string]interface{} `json:"fields"`
	Children  []string               `json:"children"`
	Inherited map[string]interface{} `json:"inherited"`
	IsDraft   bool                   `json:"is_draft"`
	EditedBy  string                 `json:"edited_by"`
}

// PathInfo is the navigable position of a block inside its course
type PathInfo struct {
	Course   string `json:"course"`
	Chapter  string `json:"chapter"`
	Section  string `json:"section"`
	Position string `json:"position"`
}

func (c *CoursestoreClient) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.http.DoRequest(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed: status=%d, body=%s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *CoursestoreClient) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	resp, err := c.http.DoRequest(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed: status=%d, body=%s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListCourses fetches all course roots
func (c *CoursestoreClient) ListCourses(ctx context.Context) ([]BlockInfo, error) {
	var response struct {
		Courses []BlockInfo `json:"courses"`
	}
	if err := c.getJSON(ctx, "/api/v1/courses", &response); err != nil {
		return nil, err
	}
	return response.Courses, nil
}

// CreateCourse creates a new course
// Requires: ctx with UserID set via WithUserID()
func (c *CoursestoreClient) CreateCourse(ctx context.Context, org, course, run string, fields map[string]interface{}) (*BlockInfo, error) {
	payload := map[string]interface{}{
		"org":    org,
		"course": course,
		"run":    run,
		"fields": fields,
	}
	var root BlockInfo
	if err := c.postJSON(ctx, "/api/v1/courses", payload, &root); err != nil {
		return nil, err
	}
	c.log.Info("created course", "key", root.Key)
	return &root, nil
}

// GetBlock fetches one block. revision is "preferred", "published", or
// "draft"; empty means preferred.
func (c *CoursestoreClient) GetBlock(ctx context.Context, key, revision string) (*BlockInfo, error) {
	path := "/api/v1/blocks/" + url.PathEscape(key)
	if revision != "" {
		path += "?revision=" + url.QueryEscape(revision)
	}
	var block BlockInfo
	if err := c.getJSON(ctx, path, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// CreateBlock creates a block, optionally attached to a parent
// Requires: ctx with UserID set via WithUserID()
func (c *CoursestoreClient) CreateBlock(ctx context.Context, key, parent string, fields map[string]interface{}) (*BlockInfo, error) {
	payload := map[string]interface{}{
		"key":    key,
		"fields": fields,
	}
	if parent != "" {
		payload["parent"] = parent
	}
	var block BlockInfo
	if err := c.postJSON(ctx, "/api/v1/blocks", payload, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// Publish makes a block subtree live
// Requires: ctx with UserID set via WithUserID()
func (c *CoursestoreClient) Publish(ctx context.Context, key string) (*BlockInfo, error) {
	var block BlockInfo
	if err := c.postJSON(ctx, "/api/v1/blocks/"+url.PathEscape(key)+"/publish", nil, &block); err != nil {
		return nil, err
	}
	c.log.Info("published block", "key", key)
	return &block, nil
}

// HasChanges reports whether a subtree has unpublished edits
func (c *CoursestoreClient) HasChanges(ctx context.Context, key string) (bool, error) {
	var response struct {
		HasChanges bool `json:"has_changes"`
	}
	if err := c.getJSON(ctx, "/api/v1/blocks/"+url.PathEscape(key)+"/changes", &response); err != nil {
		return false, err
	}
	return response.HasChanges, nil
}

// GetPath resolves a block's navigable course position
func (c *CoursestoreClient) GetPath(ctx context.Context, key string) (*PathInfo, error) {
	var path PathInfo
	if err := c.getJSON(ctx, "/api/v1/blocks/"+url.PathEscape(key)+"/path", &path); err != nil {
		return nil, err
	}
	return &path, nil
}
