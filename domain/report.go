package domain

import "time"

// ProbeResult is the outcome of one reachability test.
type ProbeResult struct {
	Status       Status `json:"status"`
	ResponseTime int64  `json:"response_time,omitempty"`
	PublicIP     string `json:"public_ip,omitempty"`
	Location     string `json:"location,omitempty"`
	TestURL      string `json:"test_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (r ProbeResult) Live() bool {
	return r.Status == StatusLive
}

type Outcome struct {
	ID int64 `json:"id"`
	ProbeResult
	Host      string `json:"host"`
	Port      int    `json:"port"`
	FailCount int    `json:"fail_count"`
}

type Summary struct {
	Total int `json:"total"`
	Live  int `json:"live"`
	Dead  int `json:"dead"`
}

type BatchReport struct {
	Results []Outcome `json:"results"`
	Summary Summary   `json:"summary"`
}

type ImportReport struct {
	Imported     int      `json:"imported"`
	Errors       int      `json:"errors"`
	ErrorDetails []string `json:"error_details"`
	Proxies      []Proxy  `json:"proxies"`
}

type Stats struct {
	Total           int            `json:"total"`
	Live            int            `json:"live"`
	Dead            int            `json:"dead"`
	Pending         int            `json:"pending"`
	ByType          map[string]int `json:"by_type"`
	ByTag           map[string]int `json:"by_tag"`
	AvgResponseTime float64        `json:"avg_response_time"`
	LastTested      *time.Time     `json:"last_tested"`
}
