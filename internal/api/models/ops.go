package models

// Health is the body of GET /v1/ops/health.
type Health struct {
	Status    HealthStatus    `json:"status"`
	Time      Timestamp       `json:"time"`
	Version   string          `json:"version,omitempty"`
	BuildTime string          `json:"buildTime,omitempty"`
	Backends  []BackendStatus `json:"backends"`
}

// BackendStatus is the circuit state and last outcome of one backend client.
type BackendStatus struct {
	Name                string       `json:"name"`
	Status              HealthStatus `json:"status"`
	CircuitState        string       `json:"circuitState"`
	ConsecutiveFailures uint32       `json:"consecutiveFailures"`
	LastSuccessAt       *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *Timestamp   `json:"lastFailureAt,omitempty"`
	LastError           string       `json:"lastError,omitempty"`
}

// Readiness is the body of GET /v1/ops/ready.
type Readiness struct {
	Ready    bool     `json:"ready"`
	Analyses []string `json:"analyses"`
}

// AnalysisKind describes one analysis accepted by POST /v1/analyses/{kind}.
type AnalysisKind struct {
	Name           string `json:"name"`
	ThresholdField string `json:"thresholdField"`
	IntegerOnly    bool   `json:"integerThreshold,omitempty"`
	Path           string `json:"path"`
}
