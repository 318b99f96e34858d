package models

import "encoding/json"

// AnalysisResult is one stored analysis run.
type AnalysisResult struct {
	ID                  string          `json:"id"`
	AnalysisType        string          `json:"analysisType"`
	RegionID            string          `json:"regionId"`
	Status              string          `json:"status"`
	Message             string          `json:"message,omitempty"`
	AlertTriggered      bool            `json:"alertTriggered"`
	Metric              *float64        `json:"metric"`
	Threshold           *float64        `json:"threshold"`
	BufferRadiusMeters  *int            `json:"bufferRadiusMeters"`
	RecentPeriodStart   *string         `json:"recentPeriodStart"`
	RecentPeriodEnd     *string         `json:"recentPeriodEnd"`
	BaselinePeriodStart *string         `json:"baselinePeriodStart"`
	BaselinePeriodEnd   *string         `json:"baselinePeriodEnd"`
	PreviousPeriodStart *string         `json:"previousPeriodStart"`
	PreviousPeriodEnd   *string         `json:"previousPeriodEnd"`
	Envelope            json.RawMessage `json:"envelope"`
	CreatedAt           Timestamp       `json:"createdAt"`
}

// AnalysisResultList is the body of GET /v1/results.
type AnalysisResultList struct {
	Results []AnalysisResult `json:"results"`
}

// AlertCount is the number of alerts raised by one analysis type.
type AlertCount struct {
	AnalysisType string `json:"analysisType"`
	Count        int    `json:"count"`
}

// AlertSummary is the body of GET /v1/results/alert-summary.
type AlertSummary struct {
	TotalAlerts      int              `json:"totalAlerts"`
	AlertsByCategory []AlertCount     `json:"alertsByCategory"`
	RecentAlerts     []AnalysisResult `json:"recentAlerts"`
}
