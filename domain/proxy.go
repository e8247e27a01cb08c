package domain

import (
	"strconv"
	"time"
)

type Scheme string

const (
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
	SchemeSOCKS4 Scheme = "socks4"
	SchemeSOCKS5 Scheme = "socks5"
)

func (s Scheme) Valid() bool {
	switch s {
	case SchemeHTTP, SchemeHTTPS, SchemeSOCKS4, SchemeSOCKS5:
		return true
	}
	return false
}

type Status string

const (
	StatusPending Status = "pending"
	StatusLive    Status = "live"
	StatusDead    Status = "dead"
)

// Candidate is a parsed proxy that has not been persisted yet.
type Candidate struct {
	Scheme   Scheme `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (c Candidate) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func (c Candidate) String() string {
	return string(c.Scheme) + "://" + c.Addr()
}

type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Proxy struct {
	ID           int64      `json:"id"`
	OwnerID      int64      `json:"owner_id"`
	Name         string     `json:"name"`
	Host         string     `json:"host"`
	Port         int        `json:"port"`
	Username     string     `json:"username"`
	Password     string     `json:"password"`
	Scheme       Scheme     `json:"type"`
	Status       Status     `json:"status"`
	ResponseTime *int64     `json:"response_time"`
	PublicIP     *string    `json:"public_ip"`
	Location     *string    `json:"location"`
	FailCount    int        `json:"fail_count"`
	LastTested   *time.Time `json:"last_tested"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Tags         []Tag      `json:"tags"`
}

func (p Proxy) Candidate() Candidate {
	return Candidate{
		Scheme:   p.Scheme,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
		Name:     p.Name,
	}
}

func (p Proxy) TagNames() []string {
	names := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		names = append(names, t.Name)
	}
	return names
}

// ApplyProbe moves the health fields according to a probe outcome.
// On failure the previous response time and public IP are kept.
func (p *Proxy) ApplyProbe(r ProbeResult, at time.Time) {
	t := at
	p.LastTested = &t
	p.UpdatedAt = at
	if r.Status == StatusLive {
		p.Status = StatusLive
		rt := r.ResponseTime
		p.ResponseTime = &rt
		ip := r.PublicIP
		p.PublicIP = &ip
		if r.Location != "" {
			loc := r.Location
			p.Location = &loc
		}
		p.FailCount = 0
		return
	}
	p.Status = StatusDead
	p.FailCount++
}

// ProxyInput is the editable part of a proxy used by add and update.
// A nil Tags slice on update leaves the associations untouched.
type ProxyInput struct {
	Candidate
	Tags []string `json:"tags"`
}

type ListQuery struct {
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
	Tag    string `json:"tag"`
	Search string `json:"search"`
	Status Status `json:"status"`
}

type ProxyPage struct {
	Proxies    []Proxy  `json:"proxies"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalPages int      `json:"total_pages"`
	Tags       []string `json:"tags"`
}
