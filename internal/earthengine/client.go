// Package earthengine is a client for the Earth Engine REST API. Computations
// are described as graphs (see Image, ImageCollection, FeatureCollection) and
// evaluated server-side.
package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/geowatch/geowatch/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the high-volume endpoint, suited to batch jobs.
	DefaultBaseURL = "https://earthengine-highvolume.googleapis.com"

	// DefaultProjectID is the cloud project requests are billed to.
	DefaultProjectID = "project-ultron-457221"

	// DefaultTimeout bounds a single backend call. Region reductions over a
	// year of imagery routinely take minutes.
	DefaultTimeout = 10 * time.Minute

	// ProviderName identifies this provider in the resilience registry.
	ProviderName = "earthengine"

	tracerName = "github.com/geowatch/geowatch/internal/earthengine"

	// maxErrorBody caps a non-JSON error body kept as the message.
	maxErrorBody = 512
)

// Scopes requested for the service account token.
var Scopes = []string{
	"https://www.googleapis.com/auth/earthengine",
	"https://www.googleapis.com/auth/cloud-platform",
}

// ErrCredentials reports that the service account cannot be used: Dial could
// not load or verify it, or the backend rejected it for the project.
var ErrCredentials = errors.New("earthengine credentials")

// APIError is an error reported by the backend.
type APIError struct {
	Code    int
	Message string
	Status  string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("earthengine: HTTP %d %s", e.Code, e.Status)
}

// Is matches ErrCredentials when the backend refused the caller's identity
// or its access to the project.
func (e *APIError) Is(target error) bool {
	return target == ErrCredentials && e.rejectsCredentials()
}

func (e *APIError) rejectsCredentials() bool {
	switch e.Status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return true
	}
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds everything Dial needs to authenticate and reach the backend.
type Config struct {
	ProjectID       string
	BaseURL         string
	CredentialsPath string

	// HTTPClient carries the requests, usually a *resilience.Client from
	// NewHTTPClient shared by every dial so one circuit breaker sees all
	// calls. When nil, Dial builds one from Timeout, MaxRetries and Registry.
	HTTPClient HTTPDoer

	// Timeout per call (default: DefaultTimeout).
	Timeout time.Duration

	// MaxRetries after the first attempt. Zero means no retries.
	MaxRetries uint64

	// Registry tracks backend health across calls. Optional.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// NewHTTPClient creates the resilient transport for the backend and
// registers it under ProviderName. Requests sent through it must already
// carry credentials; Dial adds them per service account.
func NewHTTPClient(timeout time.Duration, maxRetries uint64, registry *resilience.Registry) *resilience.Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return resilience.NewClient(resilience.ClientConfig{
		Name:            ProviderName,
		Timeout:         timeout,
		MaxRetries:      maxRetries,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Registry:        registry,
	})
}

// ClientConfig holds configuration for a Client over an existing transport.
type ClientConfig struct {
	ProjectID  string
	BaseURL    string
	HTTPClient HTTPDoer
	Logger     zerolog.Logger
}

// Client evaluates graphs against one project.
type Client struct {
	projectID  string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a client over cfg.HTTPClient, which must already
// authenticate its requests.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = DefaultProjectID
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout, 0, nil)
	}

	return &Client{
		projectID:  projectID,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Dial loads the service account key at cfg.CredentialsPath, verifies it by
// fetching a token and returns a client whose requests carry that token over
// cfg.HTTPClient.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.CredentialsPath == "" {
		return nil, fmt.Errorf("%w: credentials path is empty", ErrCredentials)
	}

	data, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading key file: %w", ErrCredentials, err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing key file: %w", ErrCredentials, err)
	}

	tokenSource := jwtConfig.TokenSource(ctx)
	if _, err := tokenSource.Token(); err != nil {
		return nil, fmt.Errorf("%w: fetching token: %w", ErrCredentials, err)
	}

	base := cfg.HTTPClient
	if base == nil {
		base = NewHTTPClient(cfg.Timeout, cfg.MaxRetries, cfg.Registry)
	}
	httpClient := &authorizedDoer{base: base, source: tokenSource}

	cfg.Logger.Debug().
		Str("project", cfg.ProjectID).
		Str("service_account", jwtConfig.Email).
		Msg("earthengine client initialized")

	return NewClient(ClientConfig{
		ProjectID:  cfg.ProjectID,
		BaseURL:    cfg.BaseURL,
		HTTPClient: httpClient,
		Logger:     cfg.Logger,
	}), nil
}

// authorizedDoer sets the service account's bearer token on each request
// before handing it to the shared transport.
type authorizedDoer struct {
	base   HTTPDoer
	source oauth2.TokenSource
}

func (d *authorizedDoer) Do(req *http.Request) (*http.Response, error) {
	token, err := d.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: fetching token: %w", ErrCredentials, err)
	}
	req = req.Clone(req.Context())
	token.SetAuthHeader(req)
	return d.base.Do(req)
}

// Compute evaluates v and returns the decoded JSON result. step names the
// call in logs and traces.
func (c *Client) Compute(ctx context.Context, step string, v Value) (any, error) {
	expr, err := Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", step, err)
	}

	var resp computeResponse
	if err := c.post(ctx, step, "/value:compute", computeRequest{Expression: expr}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decoding %s result: %w", step, err)
	}
	return result, nil
}

// ThumbnailParams controls preview rendering.
type ThumbnailParams struct {
	Region        Geometry
	MaxDimension  int
	Visualization *Visualization
}

// ThumbnailURL registers a PNG rendering of img and returns its pixel URL.
func (c *Client) ThumbnailURL(ctx context.Context, step string, img Image, p ThumbnailParams) (string, error) {
	if p.Visualization != nil {
		img = img.Visualize(*p.Visualization)
	}
	if p.Region.n != nil && p.MaxDimension > 0 {
		img = img.clipToBoundsAndScale(p.Region, p.MaxDimension)
	}

	expr, err := Encode(img)
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", step, err)
	}

	var resp thumbnailResponse
	if err := c.post(ctx, step, "/thumbnails", thumbnailRequest{Expression: expr, FileFormat: "PNG"}, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", fmt.Errorf("%s: thumbnail response without name", step)
	}
	return fmt.Sprintf("%s/v1/%s:getPixels", c.baseURL, resp.Name), nil
}

func (c *Client) post(ctx context.Context, step, path string, body, out any) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "earthengine."+step)
	defer span.End()
	span.SetAttributes(
		attribute.String("earthengine.project", c.projectID),
		attribute.String("earthengine.step", step),
	)

	start := time.Now()
	err := c.doPost(ctx, path, body, out)

	event := c.logger.Debug()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		event = c.logger.Warn().Err(err)
	}
	event.Str("step", step).Dur("duration", time.Since(start)).Msg("earthengine call")

	return err
}

func (c *Client) doPost(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s%s", c.baseURL, c.projectID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(statusCode int, data []byte) error {
	var envelope errorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		code := envelope.Error.Code
		if code == 0 {
			code = statusCode
		}
		return &APIError{Code: code, Message: envelope.Error.Message, Status: envelope.Error.Status}
	}

	msg := truncate(strings.TrimSpace(string(data)), maxErrorBody)
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &APIError{Code: statusCode, Message: msg, Status: http.StatusText(statusCode)}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// REST wire types.

type computeRequest struct {
	Expression *Expression `json:"expression"`
}

type computeResponse struct {
	Result json.RawMessage `json:"result"`
}

type thumbnailRequest struct {
	Expression *Expression `json:"expression"`
	FileFormat string      `json:"fileFormat"`
}

type thumbnailResponse struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
