package freelancehunt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/maxaizer/fh-notifier/internal/ratelimit"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"net/http"
	"time"
)

const DefaultBaseURL = "https://api.freelancehunt.com/v2"

var ErrRateLimited = errors.New("rate limit exceeded (HTTP 429)")

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %v, body: %v", e.StatusCode, e.Body)
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProjectsResponse is a decoded listing page together with the rate limit hints
// found in its headers and body.
type ProjectsResponse struct {
	Projects  []Project
	RateLimit ratelimit.Hints
}

type Client struct {
	httpClient HTTPClient
	baseURL    string
	token      string
}

func NewClient(token string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    DefaultBaseURL,
		token:      token,
	}
}

func (c *Client) SetHTTPClient(client HTTPClient) {
	c.httpClient = client
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// GetProjects requests a single page of projects. A 200 with an absent or malformed body
// is not an error: it yields an empty page.
func (c *Client) GetProjects(ctx context.Context, parameters ProjectParameters) (*ProjectsResponse, error) {

	apiURL := c.baseURL + "/projects"
	if params := parameters.ToUrlParams(); len(params) > 0 {
		apiURL += "?" + params.Encode()
	}
	log.Debugf("requesting %v", apiURL)

	body, header, err := c.sendRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}

	response := &ProjectsResponse{RateLimit: ratelimit.HintsFromHeader(header)}

	if len(bytes.TrimSpace(body)) == 0 {
		log.Warn("empty projects response body")
		return response, nil
	}

	var raw struct {
		Data []Project      `json:"data"`
		Meta json.RawMessage `json:"meta"`
	}
	if err = json.Unmarshal(body, &raw); err != nil {
		log.Warnf("malformed projects response body: %v", err)
		return response, nil
	}

	response.Projects = raw.Data
	response.RateLimit = response.RateLimit.Merge(parseMetaHints(raw.Meta))
	return response, nil
}

func (c *Client) sendRequest(ctx context.Context, method string, url string, body io.Reader) ([]byte, http.Header, error) {

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	return c.handleResponse(resp)
}

func (c *Client) handleResponse(resp *http.Response) ([]byte, http.Header, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("error reading response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, resp.Header, nil
	case http.StatusTooManyRequests:
		return nil, resp.Header, ErrRateLimited
	default:
		return nil, resp.Header, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func parseMetaHints(raw json.RawMessage) ratelimit.Hints {
	if len(raw) == 0 {
		return ratelimit.Hints{}
	}

	var meta responseMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		log.Debugf("couldn't parse rate limit from response meta: %v", err)
		return ratelimit.Hints{}
	}

	limits := meta.RateLimit
	if limits == nil {
		limits = meta.RateLimitAlt
	}
	if limits == nil || limits.Limit == nil || limits.Remaining == nil {
		return ratelimit.Hints{}
	}

	limit, remaining := int(*limits.Limit), int(*limits.Remaining)
	return ratelimit.Hints{Limit: &limit, Remaining: &remaining}
}
