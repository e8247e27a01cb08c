package models

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertTagIfMissing = `-- name: InsertTagIfMissing :one
INSERT INTO tags (name, created_at)
VALUES ($1, $2)
ON CONFLICT (name) DO NOTHING
RETURNING id, name, created_at`

type InsertTagIfMissingParams struct {
	Name      string             `json:"name"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

// InsertTagIfMissing returns pgx.ErrNoRows when the name already exists.
func (q *Queries) InsertTagIfMissing(ctx context.Context, arg InsertTagIfMissingParams) (Tag, error) {
	row := q.db.QueryRow(ctx, insertTagIfMissing, arg.Name, arg.CreatedAt)
	var i Tag
	err := row.Scan(&i.ID, &i.Name, &i.CreatedAt)
	return i, err
}

const getTagByName = `-- name: GetTagByName :one
SELECT id, name, created_at FROM tags WHERE name = $1`

func (q *Queries) GetTagByName(ctx context.Context, name string) (Tag, error) {
	row := q.db.QueryRow(ctx, getTagByName, name)
	var i Tag
	err := row.Scan(&i.ID, &i.Name, &i.CreatedAt)
	return i, err
}

const listTags = `-- name: ListTags :many
SELECT id, name, created_at FROM tags ORDER BY id`

func (q *Queries) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := q.db.Query(ctx, listTags)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Tag
	for rows.Next() {
		var i Tag
		if err := rows.Scan(&i.ID, &i.Name, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const clearProxyTags = `-- name: ClearProxyTags :exec
DELETE FROM proxy_tags WHERE proxy_id = $1`

func (q *Queries) ClearProxyTags(ctx context.Context, proxyID int64) error {
	_, err := q.db.Exec(ctx, clearProxyTags, proxyID)
	return err
}

const addProxyTag = `-- name: AddProxyTag :exec
INSERT INTO proxy_tags (proxy_id, tag_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`

type AddProxyTagParams struct {
	ProxyID int64 `json:"proxy_id"`
	TagID   int64 `json:"tag_id"`
}

func (q *Queries) AddProxyTag(ctx context.Context, arg AddProxyTagParams) error {
	_, err := q.db.Exec(ctx, addProxyTag, arg.ProxyID, arg.TagID)
	return err
}

const listProxyTags = `-- name: ListProxyTags :many
SELECT pt.proxy_id, t.id, t.name, t.created_at
FROM proxy_tags pt
JOIN tags t ON t.id = pt.tag_id
WHERE pt.proxy_id = ANY($1::bigint[])
ORDER BY pt.proxy_id, t.id`

type ListProxyTagsRow struct {
	ProxyID   int64              `json:"proxy_id"`
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

func (q *Queries) ListProxyTags(ctx context.Context, proxyIds []int64) ([]ListProxyTagsRow, error) {
	rows, err := q.db.Query(ctx, listProxyTags, proxyIds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListProxyTagsRow
	for rows.Next() {
		var i ListProxyTagsRow
		if err := rows.Scan(&i.ProxyID, &i.ID, &i.Name, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const ownerTagNames = `-- name: OwnerTagNames :many
SELECT DISTINCT t.name
FROM tags t
JOIN proxy_tags pt ON pt.tag_id = t.id
JOIN proxies p ON p.id = pt.proxy_id
WHERE p.owner_id = $1
ORDER BY t.name`

func (q *Queries) OwnerTagNames(ctx context.Context, ownerID int64) ([]string, error) {
	rows, err := q.db.Query(ctx, ownerTagNames, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		items = append(items, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
