package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/store"
	"github.com/yuridevx/proxyhub/pkg/utils"
	bolt "go.etcd.io/bbolt"
)

var (
	proxiesBucket = []byte("proxies")
	tagsBucket    = []byte("tags")
)

// Store keeps proxies keyed by big-endian id and tags keyed by name in a
// single bbolt file. Bolt allows one writer at a time, so tag creation and
// fail_count increments never race.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// record is the on-disk form. Tags are kept by name and resolved on read.
type record struct {
	domain.Proxy
	TagNames []string `json:"tag_names"`
}

// NewDefault opens (or creates) "proxyhub.bolt" next to the executable.
func NewDefault() (*Store, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	exePath, err = filepath.EvalSymlinks(exePath)
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(filepath.Dir(exePath), "proxyhub.bolt"))
}

// Open opens (or creates) the Bolt file and its buckets.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{proxiesBucket, tagsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProxy(ctx context.Context, ownerID int64, in domain.ProxyInput) (domain.Proxy, error) {
	var out domain.Proxy
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(proxiesBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		now := s.now()
		rec := record{Proxy: domain.Proxy{
			ID:        int64(seq),
			OwnerID:   ownerID,
			Status:    domain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}}
		setEditable(&rec.Proxy, in.Candidate)
		if rec.TagNames, err = s.ensureTags(tx, in.Tags); err != nil {
			return err
		}
		if err := putRecord(b, rec); err != nil {
			return err
		}
		out, err = hydrate(tx, rec)
		return err
	})
	if err != nil {
		return domain.Proxy{}, fmt.Errorf("create proxy: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateProxy(ctx context.Context, ownerID, id int64, in domain.ProxyInput) (domain.Proxy, error) {
	var out domain.Proxy
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(proxiesBucket)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		if rec.OwnerID != ownerID {
			return store.ErrNotFound
		}
		setEditable(&rec.Proxy, in.Candidate)
		if in.Tags != nil {
			if rec.TagNames, err = s.ensureTags(tx, in.Tags); err != nil {
				return err
			}
		}
		rec.UpdatedAt = s.now()
		if err := putRecord(b, rec); err != nil {
			return err
		}
		out, err = hydrate(tx, rec)
		return err
	})
	if err != nil {
		return domain.Proxy{}, fmt.Errorf("update proxy %d: %w", id, err)
	}
	return out, nil
}

func (s *Store) DeleteProxies(ctx context.Context, ownerID int64, ids []int64) (int, error) {
	deleted := 0
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(proxiesBucket)
		for _, id := range utils.Dedupe(ids) {
			rec, err := getRecord(b, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if rec.OwnerID != ownerID {
				continue
			}
			if err := b.Delete(idKey(id)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete proxies: %w", err)
	}
	return deleted, nil
}

func (s *Store) GetProxies(ctx context.Context, ownerID int64, ids []int64) ([]domain.Proxy, error) {
	var out []domain.Proxy
	err := s.view(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(proxiesBucket)
		for _, id := range utils.Dedupe(ids) {
			rec, err := getRecord(b, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if rec.OwnerID != ownerID {
				continue
			}
			p, err := hydrate(tx, rec)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get proxies: %w", err)
	}
	return out, nil
}

func (s *Store) ListProxies(ctx context.Context, ownerID int64, q domain.ListQuery) ([]domain.Proxy, int, error) {
	var (
		out   []domain.Proxy
		total int
	)
	offset := 0
	if q.Limit > 0 && q.Page > 1 {
		offset = (q.Page - 1) * q.Limit
	}

	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(proxiesBucket).ForEach(func(_, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.OwnerID != ownerID || !matches(rec, q) {
				return nil
			}
			total++
			if total <= offset || (q.Limit > 0 && len(out) >= q.Limit) {
				return nil
			}
			p, err := hydrate(tx, rec)
			if err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list proxies: %w", err)
	}
	return out, total, nil
}

func matches(rec record, q domain.ListQuery) bool {
	if q.Status != "" && rec.Status != q.Status {
		return false
	}
	if q.Tag != "" {
		found := false
		for _, name := range rec.TagNames {
			if name == q.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Search != "" {
		term := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(rec.Name), term) &&
			!strings.Contains(strings.ToLower(rec.Host), term) &&
			!strings.Contains(strings.ToLower(rec.Username), term) {
			return false
		}
	}
	return true
}

func (s *Store) OwnerTagNames(ctx context.Context, ownerID int64) ([]string, error) {
	seen := map[string]struct{}{}
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(proxiesBucket).ForEach(func(_, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.OwnerID != ownerID {
				return nil
			}
			for _, name := range rec.TagNames {
				seen[name] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("owner tags: %w", err)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) ListTags(ctx context.Context) ([]domain.Tag, error) {
	var tags []domain.Tag
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(tagsBucket).ForEach(func(_, v []byte) error {
			var t domain.Tag
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tags = append(tags, t)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].ID < tags[j].ID })
	return tags, nil
}

func (s *Store) EnsureTag(ctx context.Context, name string) (domain.Tag, error) {
	var out domain.Tag
	err := s.update(ctx, func(tx *bolt.Tx) error {
		var err error
		out, err = s.ensureTag(tx, name)
		return err
	})
	if err != nil {
		return domain.Tag{}, fmt.Errorf("ensure tag %q: %w", name, err)
	}
	return out, nil
}

func (s *Store) ApplyHealth(ctx context.Context, id int64, r domain.ProbeResult, at time.Time) (domain.Proxy, error) {
	var out domain.Proxy
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(proxiesBucket)
		rec, err := getRecord(b, id)
		if err != nil {
			return err
		}
		rec.ApplyProbe(r, at)
		if err := putRecord(b, rec); err != nil {
			return err
		}
		out, err = hydrate(tx, rec)
		return err
	})
	if err != nil {
		return domain.Proxy{}, fmt.Errorf("apply health %d: %w", id, err)
	}
	return out, nil
}

func (s *Store) StaleProxies(ctx context.Context, before time.Time, limit int) ([]domain.Proxy, error) {
	var recs []record
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(proxiesBucket).ForEach(func(_, v []byte) error {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.LastTested == nil || rec.LastTested.Before(before) {
				recs = append(recs, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("stale proxies: %w", err)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].LastTested, recs[j].LastTested
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]domain.Proxy, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Proxy)
	}
	return out, nil
}

func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *Store) ensureTags(tx *bolt.Tx, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := s.ensureTag(tx, name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return utils.Dedupe(out), nil
}

func (s *Store) ensureTag(tx *bolt.Tx, name string) (domain.Tag, error) {
	b := tx.Bucket(tagsBucket)
	if v := b.Get([]byte(name)); v != nil {
		var t domain.Tag
		err := json.Unmarshal(v, &t)
		return t, err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return domain.Tag{}, err
	}
	t := domain.Tag{ID: int64(seq), Name: name, CreatedAt: s.now()}
	v, err := json.Marshal(t)
	if err != nil {
		return domain.Tag{}, err
	}
	return t, b.Put([]byte(name), v)
}

func setEditable(p *domain.Proxy, c domain.Candidate) {
	p.Name = c.Name
	p.Host = c.Host
	p.Port = c.Port
	p.Username = c.Username
	p.Password = c.Password
	p.Scheme = c.Scheme
}

func hydrate(tx *bolt.Tx, rec record) (domain.Proxy, error) {
	p := rec.Proxy
	p.Tags = make([]domain.Tag, 0, len(rec.TagNames))
	b := tx.Bucket(tagsBucket)
	for _, name := range rec.TagNames {
		v := b.Get([]byte(name))
		if v == nil {
			continue
		}
		var t domain.Tag
		if err := json.Unmarshal(v, &t); err != nil {
			return domain.Proxy{}, err
		}
		p.Tags = append(p.Tags, t)
	}
	return p, nil
}

func getRecord(b *bolt.Bucket, id int64) (record, error) {
	v := b.Get(idKey(id))
	if v == nil {
		return record{}, store.ErrNotFound
	}
	var rec record
	if err := json.Unmarshal(v, &rec); err != nil {
		return record{}, err
	}
	return rec, nil
}

func putRecord(b *bolt.Bucket, rec record) error {
	rec.Tags = nil
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(idKey(rec.ID), v)
}

func idKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}
