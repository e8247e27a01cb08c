package models

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const proxyColumns = `id, owner_id, name, host, port, username, password, type, status, response_time, public_ip, location, fail_count, last_tested, last_used_at, created_at, updated_at`

func scanProxy(row pgx.Row) (Proxy, error) {
	var i Proxy
	err := row.Scan(
		&i.ID,
		&i.OwnerID,
		&i.Name,
		&i.Host,
		&i.Port,
		&i.Username,
		&i.Password,
		&i.Type,
		&i.Status,
		&i.ResponseTime,
		&i.PublicIp,
		&i.Location,
		&i.FailCount,
		&i.LastTested,
		&i.LastUsedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectProxies(rows pgx.Rows) ([]Proxy, error) {
	defer rows.Close()
	var items []Proxy
	for rows.Next() {
		i, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertProxy = `-- name: InsertProxy :one
INSERT INTO proxies (owner_id, name, host, port, username, password, type, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $8)
RETURNING ` + proxyColumns

type InsertProxyParams struct {
	OwnerID   int64              `json:"owner_id"`
	Name      string             `json:"name"`
	Host      string             `json:"host"`
	Port      int32              `json:"port"`
	Username  string             `json:"username"`
	Password  string             `json:"password"`
	Type      string             `json:"type"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

func (q *Queries) InsertProxy(ctx context.Context, arg InsertProxyParams) (Proxy, error) {
	row := q.db.QueryRow(ctx, insertProxy,
		arg.OwnerID,
		arg.Name,
		arg.Host,
		arg.Port,
		arg.Username,
		arg.Password,
		arg.Type,
		arg.CreatedAt,
	)
	return scanProxy(row)
}

const updateProxy = `-- name: UpdateProxy :one
UPDATE proxies
SET name = $3, host = $4, port = $5, username = $6, password = $7, type = $8, updated_at = $9
WHERE id = $1 AND owner_id = $2
RETURNING ` + proxyColumns

type UpdateProxyParams struct {
	ID        int64              `json:"id"`
	OwnerID   int64              `json:"owner_id"`
	Name      string             `json:"name"`
	Host      string             `json:"host"`
	Port      int32              `json:"port"`
	Username  string             `json:"username"`
	Password  string             `json:"password"`
	Type      string             `json:"type"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

func (q *Queries) UpdateProxy(ctx context.Context, arg UpdateProxyParams) (Proxy, error) {
	row := q.db.QueryRow(ctx, updateProxy,
		arg.ID,
		arg.OwnerID,
		arg.Name,
		arg.Host,
		arg.Port,
		arg.Username,
		arg.Password,
		arg.Type,
		arg.UpdatedAt,
	)
	return scanProxy(row)
}

const deleteProxies = `-- name: DeleteProxies :execrows
DELETE FROM proxies
WHERE owner_id = $1 AND id = ANY($2::bigint[])`

type DeleteProxiesParams struct {
	OwnerID int64   `json:"owner_id"`
	Ids     []int64 `json:"ids"`
}

func (q *Queries) DeleteProxies(ctx context.Context, arg DeleteProxiesParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteProxies, arg.OwnerID, arg.Ids)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getProxies = `-- name: GetProxies :many
SELECT ` + proxyColumns + `
FROM proxies
WHERE owner_id = $1 AND id = ANY($2::bigint[])
ORDER BY id`

type GetProxiesParams struct {
	OwnerID int64   `json:"owner_id"`
	Ids     []int64 `json:"ids"`
}

func (q *Queries) GetProxies(ctx context.Context, arg GetProxiesParams) ([]Proxy, error) {
	rows, err := q.db.Query(ctx, getProxies, arg.OwnerID, arg.Ids)
	if err != nil {
		return nil, err
	}
	return collectProxies(rows)
}

// Filters are NULL when unset. Search is a case-insensitive substring over
// name, host and username.
const proxyFilter = `
WHERE p.owner_id = $1
  AND ($2::text IS NULL OR p.status = $2)
  AND ($3::text IS NULL OR EXISTS (
        SELECT 1 FROM proxy_tags pt JOIN tags t ON t.id = pt.tag_id
        WHERE pt.proxy_id = p.id AND t.name = $3))
  AND ($4::text IS NULL
       OR strpos(lower(p.name), lower($4)) > 0
       OR strpos(lower(p.host), lower($4)) > 0
       OR strpos(lower(p.username), lower($4)) > 0)`

const listProxies = `-- name: ListProxies :many
SELECT ` + proxyColumns + `
FROM proxies p` + proxyFilter + `
ORDER BY p.id
LIMIT $5 OFFSET $6`

type ListProxiesParams struct {
	OwnerID int64       `json:"owner_id"`
	Status  pgtype.Text `json:"status"`
	Tag     pgtype.Text `json:"tag"`
	Search  pgtype.Text `json:"search"`
	Limit   pgtype.Int4 `json:"limit"`
	Offset  int32       `json:"offset"`
}

func (q *Queries) ListProxies(ctx context.Context, arg ListProxiesParams) ([]Proxy, error) {
	rows, err := q.db.Query(ctx, listProxies,
		arg.OwnerID,
		arg.Status,
		arg.Tag,
		arg.Search,
		arg.Limit,
		arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	return collectProxies(rows)
}

const countProxies = `-- name: CountProxies :one
SELECT count(*)
FROM proxies p` + proxyFilter

type CountProxiesParams struct {
	OwnerID int64       `json:"owner_id"`
	Status  pgtype.Text `json:"status"`
	Tag     pgtype.Text `json:"tag"`
	Search  pgtype.Text `json:"search"`
}

func (q *Queries) CountProxies(ctx context.Context, arg CountProxiesParams) (int64, error) {
	row := q.db.QueryRow(ctx, countProxies,
		arg.OwnerID,
		arg.Status,
		arg.Tag,
		arg.Search,
	)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const markProxyLive = `-- name: MarkProxyLive :one
UPDATE proxies
SET status = 'live',
    response_time = $2,
    public_ip = $3,
    location = COALESCE($4, location),
    fail_count = 0,
    last_tested = $5,
    updated_at = $5
WHERE id = $1
RETURNING ` + proxyColumns

type MarkProxyLiveParams struct {
	ID           int64              `json:"id"`
	ResponseTime pgtype.Int4        `json:"response_time"`
	PublicIp     pgtype.Text        `json:"public_ip"`
	Location     pgtype.Text        `json:"location"`
	TestedAt     pgtype.Timestamptz `json:"tested_at"`
}

func (q *Queries) MarkProxyLive(ctx context.Context, arg MarkProxyLiveParams) (Proxy, error) {
	row := q.db.QueryRow(ctx, markProxyLive,
		arg.ID,
		arg.ResponseTime,
		arg.PublicIp,
		arg.Location,
		arg.TestedAt,
	)
	return scanProxy(row)
}

const markProxyDead = `-- name: MarkProxyDead :one
UPDATE proxies
SET status = 'dead',
    fail_count = fail_count + 1,
    last_tested = $2,
    updated_at = $2
WHERE id = $1
RETURNING ` + proxyColumns

type MarkProxyDeadParams struct {
	ID       int64              `json:"id"`
	TestedAt pgtype.Timestamptz `json:"tested_at"`
}

func (q *Queries) MarkProxyDead(ctx context.Context, arg MarkProxyDeadParams) (Proxy, error) {
	row := q.db.QueryRow(ctx, markProxyDead, arg.ID, arg.TestedAt)
	return scanProxy(row)
}

const listStaleProxies = `-- name: ListStaleProxies :many
SELECT ` + proxyColumns + `
FROM proxies
WHERE last_tested IS NULL OR last_tested < $1
ORDER BY last_tested ASC NULLS FIRST, id
LIMIT $2`

type ListStaleProxiesParams struct {
	Before pgtype.Timestamptz `json:"before"`
	Limit  int32              `json:"limit"`
}

func (q *Queries) ListStaleProxies(ctx context.Context, arg ListStaleProxiesParams) ([]Proxy, error) {
	rows, err := q.db.Query(ctx, listStaleProxies, arg.Before, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectProxies(rows)
}
