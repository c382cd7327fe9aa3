// Package kserve runs the detection model on a remote server speaking the
// KServe v2 (Open Inference Protocol) REST API, e.g. Triton or KServe.
package kserve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/kiranshivaraju/holdseg/internal/config"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// Sentinel errors for inference server failures.
var (
	ErrUnreachable  = errors.New("inference server unreachable")
	ErrRequestError = errors.New("inference request error")
	ErrTimeout      = errors.New("inference request timeout")
)

const defaultInputName = "images"

// Client implements models.ModelRuntime over HTTP.
type Client struct {
	baseURL string
	model   string
	spec    models.OutputSpec
	client  *http.Client
}

// NewClient creates a new inference client.
func NewClient(cfg config.KServeConfig, spec models.OutputSpec) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		spec:    spec,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "kserve" }

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) Infer(ctx context.Context, input models.Tensor) (models.InferenceOutputs, error) {
	if err := input.Validate(); err != nil {
		return models.InferenceOutputs{}, err
	}

	name := c.spec.Input
	if name == "" {
		name = defaultInputName
	}
	body, err := json.Marshal(inferRequest{
		Inputs: []tensorPayload{{
			Name:     name,
			Shape:    input.Shape,
			Datatype: "FP32",
			Data:     input.Data,
		}},
		Outputs: []outputRequest{{Name: c.spec.Detections}, {Name: c.spec.Prototypes}},
	})
	if err != nil {
		return models.InferenceOutputs{}, fmt.Errorf("encoding request: %w", err)
	}

	u := fmt.Sprintf("%s/v2/models/%s/infer", c.baseURL, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return models.InferenceOutputs{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.InferenceOutputs{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return models.InferenceOutputs{}, fmt.Errorf("%w: %w: status %d %s", models.ErrInference, ErrRequestError, resp.StatusCode, e.Error)
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.InferenceOutputs{}, fmt.Errorf("%w: decoding response: %v", models.ErrInference, err)
	}

	byName := make(map[string]tensorPayload, len(out.Outputs))
	names := make([]string, 0, len(out.Outputs))
	for _, o := range out.Outputs {
		byName[o.Name] = o
		names = append(names, o.Name)
	}
	if err := c.spec.Check(names); err != nil {
		return models.InferenceOutputs{}, err
	}

	det := byName[c.spec.Detections].tensor()
	protos := byName[c.spec.Prototypes].tensor()
	if err := det.Validate(); err != nil {
		return models.InferenceOutputs{}, fmt.Errorf("%s: %w", c.spec.Detections, err)
	}
	if err := protos.Validate(); err != nil {
		return models.InferenceOutputs{}, fmt.Errorf("%s: %w", c.spec.Prototypes, err)
	}
	return models.InferenceOutputs{Detections: det, Prototypes: protos}, nil
}

// Ready reports whether the server has the model loaded.
func (c *Client) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/v2/models/%s/ready", c.baseURL, url.PathEscape(c.model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: model %q not ready (status %d)", ErrUnreachable, c.model, resp.StatusCode)
	}

	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w: %v", models.ErrInference, ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w: %v", models.ErrInference, ErrTimeout, err)
	}

	return fmt.Errorf("%w: %w: %v", models.ErrInference, ErrUnreachable, err)
}

// --- wire types ---

type inferRequest struct {
	Inputs  []tensorPayload `json:"inputs"`
	Outputs []outputRequest `json:"outputs,omitempty"`
}

type outputRequest struct {
	Name string `json:"name"`
}

type tensorPayload struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

func (p tensorPayload) tensor() models.Tensor {
	return models.Tensor{Shape: p.Shape, Data: p.Data}
}

type inferResponse struct {
	ModelName    string          `json:"model_name"`
	ModelVersion string          `json:"model_version,omitempty"`
	Outputs      []tensorPayload `json:"outputs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Compile-time check that Client implements ModelRuntime.
var _ models.ModelRuntime = (*Client)(nil)
