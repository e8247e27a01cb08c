package models

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Proxy struct {
	ID           int64              `json:"id"`
	OwnerID      int64              `json:"owner_id"`
	Name         string             `json:"name"`
	Host         string             `json:"host"`
	Port         int32              `json:"port"`
	Username     string             `json:"username"`
	Password     string             `json:"password"`
	Type         string             `json:"type"`
	Status       string             `json:"status"`
	ResponseTime pgtype.Int4        `json:"response_time"`
	PublicIp     pgtype.Text        `json:"public_ip"`
	Location     pgtype.Text        `json:"location"`
	FailCount    int32              `json:"fail_count"`
	LastTested   pgtype.Timestamptz `json:"last_tested"`
	LastUsedAt   pgtype.Timestamptz `json:"last_used_at"`
	CreatedAt    pgtype.Timestamptz `json:"created_at"`
	UpdatedAt    pgtype.Timestamptz `json:"updated_at"`
}

type ProxyTag struct {
	ProxyID int64 `json:"proxy_id"`
	TagID   int64 `json:"tag_id"`
}

type Tag struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}
