package gate

import (
	"context"
	"time"
)

// Status is a point-in-time view of one engine, for CLIs and HTTP endpoints.
type Status struct {
	Identity         string `json:"identity"`
	Period           string `json:"period"`
	Connectivity     string `json:"connectivity"`
	MaxRetryInterval string `json:"max_retry_interval"`

	ShouldRun bool          `json:"should_run"`
	Wait      time.Duration `json:"-"`
	// WaitSeconds mirrors Wait for JSON consumers.
	WaitSeconds float64 `json:"wait_seconds"`

	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	LastFailed  bool       `json:"last_failed"`

	// Network is nil when the engine has no connectivity source.
	Network *Network `json:"network,omitempty"`
}

// Status evaluates every constraint against a single reading of the clock and store.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	s, err := e.snapshot(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Identity:         e.identity,
		Period:           s.period.String(),
		Connectivity:     s.connectivity.String(),
		MaxRetryInterval: s.maxRetryInterval.String(),
		Wait:             s.nextExecution(),
		LastFailed:       s.hasFailure,
	}
	st.WaitSeconds = st.Wait.Seconds()

	if s.network != nil {
		n := s.network.Network()
		st.Network = &n
		st.ShouldRun = st.Wait == 0 && s.connectivity.Satisfied(n)
	} else {
		st.ShouldRun = st.Wait == 0
	}

	if s.hasSuccess {
		at := s.lastSuccess
		st.LastSuccess = &at
	}
	if s.hasFailure {
		at := s.lastFailure
		st.LastFailure = &at
	}
	return st, nil
}
