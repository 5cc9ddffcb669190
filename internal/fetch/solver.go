package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SolverConfig points at a FlareSolverr-compatible challenge solver service.
type SolverConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// Solver delegates the fetch to an external solver service that runs its own
// hardened browser farm. Slower and costlier than headless, so it sits late
// in the chain.
type Solver struct {
	cfg    SolverConfig
	client *http.Client
}

// NewSolver builds the solver strategy.
func NewSolver(cfg SolverConfig) *Solver {
	if cfg.Timeout == 0 {
		cfg.Timeout = 75 * time.Second
	}
	return &Solver{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newHTTPTransport(),
		},
	}
}

// Name implements Strategy.
func (s *Solver) Name() string { return "solver" }

type solverRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int64  `json:"maxTimeout"`
}

type solverResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL      string `json:"url"`
		Status   int    `json:"status"`
		Response string `json:"response"`
	} `json:"solution"`
}

// Fetch asks the solver service to retrieve the page.
func (s *Solver) Fetch(ctx context.Context, target Target) (Page, error) {
	if s.cfg.Endpoint == "" {
		return Page{}, fmt.Errorf("solver endpoint not configured")
	}

	start := time.Now()
	payload, err := json.Marshal(solverRequest{
		Cmd:        "request.get",
		URL:        target.URL,
		MaxTimeout: s.cfg.Timeout.Milliseconds(),
	})
	if err != nil {
		return Page{}, fmt.Errorf("marshal solver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Page{}, fmt.Errorf("build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("solver request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("solver returned HTTP %d", resp.StatusCode)
	}

	var body solverResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("decode solver response: %w", err)
	}
	if body.Status != "ok" {
		return Page{}, fmt.Errorf("solver rejected request: %s", body.Message)
	}

	return Page{
		URL:        body.Solution.URL,
		StatusCode: body.Solution.Status,
		HTML:       []byte(body.Solution.Response),
		Duration:   time.Since(start),
	}, nil
}

var _ Strategy = (*Solver)(nil)
