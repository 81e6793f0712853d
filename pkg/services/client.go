// Package services is the client for the project's REST endpoints: code execution, the package registry, sharing
// to chat, completion and error explanation.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/astromechza/codecollab/pkg/schema"
)

// ErrCompletionDisabled is returned by Complete once a completion request has failed.
var ErrCompletionDisabled = errors.New("completion disabled after a failure")

// Error is a failure reported by the service, either as a non-2xx status or an "error" field in the body.
type Error struct {
	Status  int
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger

	completionDisabled atomic.Bool
}

func New(baseURL string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid services url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid services url %q: scheme and host are required", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: base, http: httpClient, logger: slog.Default().With("services", base.Host)}, nil
}

type failure struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(path).String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read body from %s: %w", path, err)
	}
	c.logger.Debug("called", "path", path, "status", resp.StatusCode)

	var f failure
	_ = json.Unmarshal(raw, &f)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || f.Error != "" {
		if f.Error == "" {
			f.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: f.Error, Detail: f.Detail}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// RunResult is the outcome of Run. Exactly one of Output and HTMLPreview is meaningful.
type RunResult struct {
	Output      string `json:"output"`
	HTMLPreview string `json:"html_preview"`
}

// Run executes a file on the execution service.
func (c *Client) Run(ctx context.Context, language string, file schema.FileEntry) (RunResult, error) {
	var out RunResult
	err := c.post(ctx, "/api/run", map[string]string{
		"language": language,
		"filename": file.Filename,
		"code":     file.Content,
	}, &out)
	return out, err
}

// InstallPackage records a package for the project and returns the service's message about it.
func (c *Client) InstallPackage(ctx context.Context, project, language, pkg string) (string, error) {
	var out struct {
		Output string `json:"output"`
	}
	err := c.post(ctx, "/api/install_pkg", map[string]string{
		"projectName": project,
		"language":    language,
		"package":     pkg,
	}, &out)
	return out.Output, err
}

type Packages struct {
	Allowed   map[string][]string `json:"allowed"`
	Installed map[string][]string `json:"installed"`
}

func (c *Client) ListPackages(ctx context.Context, project string) (Packages, error) {
	var out Packages
	err := c.post(ctx, "/api/list_packages", map[string]string{"projectName": project}, &out)
	return out, err
}

type result struct {
	Success bool `json:"success"`
}

// ShareFile posts a file to the project's chat.
func (c *Client) ShareFile(ctx context.Context, user, project string, file schema.FileEntry) error {
	var out result
	if err := c.post(ctx, "/api/share_file", map[string]string{
		"usn":         user,
		"projectName": project,
		"filename":    file.Filename,
		"code":        file.Content,
	}, &out); err != nil {
		return err
	}
	if !out.Success {
		return &Error{Status: http.StatusOK, Message: "share failed"}
	}
	return nil
}

// DeleteMessage soft-deletes one of the user's own chat messages.
func (c *Client) DeleteMessage(ctx context.Context, messageID, user string) error {
	var out result
	if err := c.post(ctx, "/delete_message", map[string]string{"message_id": messageID, "usn": user}, &out); err != nil {
		return err
	}
	if !out.Success {
		return &Error{Status: http.StatusOK, Message: "delete failed"}
	}
	return nil
}

// Complete asks for a short continuation of code. After the first failure, other than ctx being canceled, every
// later call returns ErrCompletionDisabled without contacting the service.
func (c *Client) Complete(ctx context.Context, code string) (string, error) {
	if c.completionDisabled.Load() {
		return "", ErrCompletionDisabled
	}
	if strings.TrimSpace(code) == "" {
		return "", nil
	}
	var out struct {
		Completion string `json:"completion"`
	}
	if err := c.post(ctx, "/api/ai_complete", map[string]string{"code": code}, &out); err != nil {
		// The caller giving up says nothing about the service.
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		c.completionDisabled.Store(true)
		c.logger.Warn("disabling completion", "err", err)
		return "", err
	}
	return out.Completion, nil
}

func (c *Client) CompletionEnabled() bool {
	return !c.completionDisabled.Load()
}

// ExplainError asks for an explanation of an error produced by code. line is 0 when unknown.
func (c *Client) ExplainError(ctx context.Context, errorText string, line int, code string) (string, error) {
	var out struct {
		Explanation string `json:"explanation"`
	}
	lineField := ""
	if line > 0 {
		lineField = strconv.Itoa(line)
	}
	err := c.post(ctx, "/api/explain_error", map[string]string{
		"error": errorText,
		"line":  lineField,
		"code":  code,
	}, &out)
	return out.Explanation, err
}

var errorLine = regexp.MustCompile(`line (\d+)`)

// ErrorLine extracts the first "line N" reference from an error message.
func ErrorLine(msg string) (int, bool) {
	m := errorLine.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}
