// internal/streaming/client.go
package streaming

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/scriptloom/scriptloom/internal/errors"
)

// StreamTarget receives the decoded stream. Session[T] satisfies it for any
// item type, which keeps the client free of generics.
type StreamTarget interface {
	Feed(delta string)
	End()
	Fail(err error)
	AdoptResults(results []json.RawMessage, completed bool)
}

// Client consumes line-framed generation streams over HTTP: opening fresh
// completions and reattaching to transforms that are already running.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
}

// NewClient creates a stream client for baseURL. The underlying HTTP client
// carries no overall timeout; stream lifetimes are bounded by the caller's
// context.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		headers:    make(map[string]string),
	}
}

// SetHeader adds a header to every request, e.g. an Authorization token.
func (c *Client) SetHeader(key, value string) *Client {
	c.headers[key] = value
	return c
}

// OpenCompletion POSTs payload to path and feeds the response stream into
// target until the end marker, a terminal error frame, or EOF.
func (c *Client) OpenCompletion(ctx context.Context, path string, payload interface{}, target StreamTarget) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewValidationError("无法序列化请求体", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewTransportError("创建请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/x-ndjson")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		transportErr := apperrors.NewTransportError("连接生成流失败", err)
		target.Fail(transportErr)
		return transportErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		transportErr := apperrors.NewTransportError(fmt.Sprintf("生成流返回 HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
		target.Fail(transportErr)
		return transportErr
	}

	return c.consume(resp.Body, target)
}

// ConnectTransform reattaches to a running transform's stream. When the
// stream endpoint is unreachable it degrades to a one-shot results fetch, so
// a reconnecting consumer still lands on the persisted state.
func (c *Client) ConnectTransform(ctx context.Context, transformID string, target StreamTarget) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/transforms/%s/stream", c.baseURL, transformID), nil)
	if err != nil {
		return apperrors.NewTransportError("创建请求失败", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fetchResults(ctx, transformID, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return c.fetchResults(ctx, transformID, target,
			fmt.Errorf("stream endpoint returned HTTP %d", resp.StatusCode))
	}

	return c.consume(resp.Body, target)
}

// fetchResults is the resume fallback: a plain GET of whatever the transform
// has persisted so far. Only when both paths fail does the target see an
// error.
func (c *Client) fetchResults(ctx context.Context, transformID string, target StreamTarget, streamErr error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/transforms/%s/results", c.baseURL, transformID), nil)
	if err != nil {
		transportErr := apperrors.NewTransportError("重连失败", streamErr)
		target.Fail(transportErr)
		return transportErr
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		transportErr := apperrors.NewTransportError(fmt.Sprintf("流和回退均失败: %v", streamErr), err)
		target.Fail(transportErr)
		return transportErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		transportErr := apperrors.NewTransportError(fmt.Sprintf("回退查询返回 HTTP %d", resp.StatusCode), streamErr)
		target.Fail(transportErr)
		return transportErr
	}

	var env StatusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		transportErr := apperrors.NewTransportError("回退结果解析失败", err)
		target.Fail(transportErr)
		return transportErr
	}

	target.AdoptResults(env.Results, env.Status == EnvelopeCompleted)
	return nil
}

// consume decodes frames line by line until a terminal frame or EOF. Clean
// EOF without an end marker still finalizes the target; only read errors
// fail it.
func (c *Client) consume(body io.Reader, target StreamTarget) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		frame := DecodeFrame(scanner.Text())

		switch frame.Kind {
		case FrameDelta:
			target.Feed(frame.Delta)

		case FrameEnd:
			target.End()
			return nil

		case FrameError:
			transportErr := apperrors.NewTransportError(frame.Message, nil)
			target.Fail(transportErr)
			return transportErr

		case FrameStatus:
			switch frame.Envelope.Status {
			case EnvelopePartialResults:
				target.AdoptResults(frame.Envelope.Results, false)
			case EnvelopeCompleted:
				target.AdoptResults(frame.Envelope.Results, true)
				return nil
			}
			// connected 只表示已挂上流，无需处理

		case FrameUnknown:
			// 按协议约定忽略
		}
	}

	if err := scanner.Err(); err != nil {
		transportErr := apperrors.NewTransportError("读取生成流失败", err)
		target.Fail(transportErr)
		return transportErr
	}

	target.End()
	return nil
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}
