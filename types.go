package storegate

import "github.com/giantswarm/storegate/session"

// HealthResponse is the body of the health and readiness endpoints
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HistoryResponse lists a tenant's credential records
type HistoryResponse struct {
	Tenant      string                  `json:"tenant"`
	Credentials []session.RecordSummary `json:"credentials"`
}

// AppResponse is served by the default app handler
type AppResponse struct {
	Shop string `json:"shop,omitempty"`
}
