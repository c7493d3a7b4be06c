package vtrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oapi-codegen/runtime"
)

// HttpRequestDoer performs HTTP requests. *http.Client satisfies it.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the stream API.
type Client struct {
	// Server is the base URL, e.g. "http://localhost:8080".
	Server string
	Client HttpRequestDoer
}

type ClientOption func(*Client) error

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.Client = doer
		return nil
	}
}

func NewClient(server string, opts ...ClientOption) (*Client, error) {
	if _, err := url.Parse(server); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", server, err)
	}
	c := &Client{Server: strings.TrimSuffix(server, "/")}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	return c, nil
}

// CreateStreamResponse carries the raw response and the decoded body that
// matches its status code.
type CreateStreamResponse struct {
	HTTPResponse *http.Response
	Body         []byte
	JSON201      *StreamStatus
	JSON400      *Error
	JSON409      *Error
	JSON500      *Error
}

func (r *CreateStreamResponse) StatusCode() int {
	return r.HTTPResponse.StatusCode
}

// GetStreamResponse carries the raw response and the decoded body that
// matches its status code.
type GetStreamResponse struct {
	HTTPResponse *http.Response
	Body         []byte
	JSON200      *StreamStatus
	JSON404      *Error
	JSON500      *Error
}

func (r *GetStreamResponse) StatusCode() int {
	return r.HTTPResponse.StatusCode
}

// CreateStream sends POST /streams.
func (c *Client) CreateStream(ctx context.Context, body CreateStreamRequest) (*CreateStreamResponse, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Server+"/streams", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	rsp, raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	out := &CreateStreamResponse{HTTPResponse: rsp, Body: raw}
	switch rsp.StatusCode {
	case http.StatusCreated:
		err = decodeInto(raw, &out.JSON201)
	case http.StatusBadRequest:
		err = decodeInto(raw, &out.JSON400)
	case http.StatusConflict:
		err = decodeInto(raw, &out.JSON409)
	case http.StatusInternalServerError:
		err = decodeInto(raw, &out.JSON500)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetStream sends GET /streams/{videoId}.
func (c *Client) GetStream(ctx context.Context, videoID string) (*GetStreamResponse, error) {
	pathParam, err := runtime.StyleParamWithLocation("simple", false, "videoId", runtime.ParamLocationPath, videoID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Server+"/streams/"+pathParam, nil)
	if err != nil {
		return nil, err
	}

	rsp, raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	out := &GetStreamResponse{HTTPResponse: rsp, Body: raw}
	switch rsp.StatusCode {
	case http.StatusOK:
		err = decodeInto(raw, &out.JSON200)
	case http.StatusNotFound:
		err = decodeInto(raw, &out.JSON404)
	case http.StatusInternalServerError:
		err = decodeInto(raw, &out.JSON500)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	rsp, err := c.Client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer rsp.Body.Close()
	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return rsp, raw, nil
}

func decodeInto[T any](raw []byte, dest **T) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	*dest = &v
	return nil
}
