// Package client talks to a running GEMM server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/systolic/internal/accel"
	"github.com/samcharles93/systolic/internal/api"
	"github.com/samcharles93/systolic/internal/precision"
	"github.com/samcharles93/systolic/internal/tensor"
	"github.com/samcharles93/systolic/pkg/wire"
)

var ErrBadResponse = errors.New("client: malformed server response")

// StatusError is a non-2xx reply. Message and Type come from the server's
// error envelope when one was sent.
type StatusError struct {
	Code    int
	Type    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.Code, e.Type, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Minute},
	}
}

// Configure asks the server to load cfg through the query form of /load,
// which every server version accepts.
func (c *Client) Configure(ctx context.Context, cfg accel.Config, force bool) error {
	q := url.Values{}
	q.Set(wire.ParamPart, cfg.Part)
	q.Set(wire.ParamR, strconv.Itoa(cfg.R))
	q.Set(wire.ParamC, strconv.Itoa(cfg.C))
	q.Set(wire.ParamN, strconv.Itoa(cfg.N))
	q.Set(wire.ParamEs, strconv.Itoa(cfg.Es))
	q.Set(wire.ParamQSize, strconv.Itoa(cfg.QSize))
	q.Set(wire.ParamDepth, strconv.Itoa(cfg.Depth))
	q.Set(wire.ParamNumThreads, strconv.Itoa(cfg.NumThreads))
	if force {
		q.Set(wire.ParamForce, "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+wire.PathLoad+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var st api.StatusResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+wire.PathStatus, nil)
	if err != nil {
		return st, err
	}
	resp, err := c.do(req)
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("%w: decode status: %v", ErrBadResponse, err)
	}
	return st, nil
}

// Multiply sends a and b to the server and returns their product. The
// element type must match the precision the server is configured for.
func Multiply[T precision.Element](ctx context.Context, c *Client, a, b *tensor.Matrix[T]) (*tensor.Matrix[T], error) {
	size := precision.Of[T]().Bytes()
	body := make([]byte, 0, (len(a.Data)+len(b.Data))*size)
	body = wire.Encode(body, a.Data)
	body = wire.Encode(body, b.Data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+wire.PathGEMM, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", wire.MIMEOctetStream)
	req.Header.Set(wire.HeaderAr, strconv.Itoa(a.Rows))
	req.Header.Set(wire.HeaderAc, strconv.Itoa(a.Cols))
	req.Header.Set(wire.HeaderBr, strconv.Itoa(b.Rows))
	req.Header.Set(wire.HeaderBc, strconv.Itoa(b.Cols))

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	rows, err1 := strconv.Atoi(resp.Header.Get(wire.HeaderYr))
	cols, err2 := strconv.Atoi(resp.Header.Get(wire.HeaderYc))
	if err := errors.Join(err1, err2); err != nil {
		return nil, fmt.Errorf("%w: result shape: %v", ErrBadResponse, err)
	}
	if rows != a.Rows || cols != b.Cols {
		return nil, fmt.Errorf("%w: result shape %dx%d, want %dx%d", ErrBadResponse, rows, cols, a.Rows, b.Cols)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	y := tensor.New[T](rows, cols)
	if err := wire.Decode(y.Data, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return y, nil
}

// do sends req and turns any non-2xx reply into a *StatusError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	se := &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	var env struct {
		Error api.ResponseError `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		se.Message = env.Error.Message
		se.Type = env.Error.Type
	}
	return nil, se
}
