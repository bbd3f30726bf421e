// Package redis provides a Store backed by Redis hashes.
//
// Each record is one hash (prefix:workflow:<id>, prefix:run:<id>), so a
// single HGETALL always observes a whole record. Sorted sets
// (prefix:workflows, prefix:runs) index records for listing and counting.
// Run upserts use WATCH on the record key only, so writers to different runs
// never contend.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/autokit/internal/model"
)

// maxTxRetries bounds optimistic-lock retries for one run upsert.
const maxTxRetries = 64

// Store is a Redis-backed workflow/run store.
type Store struct {
	client *goredis.Client
	prefix string
	clock  model.Clock
	newID  func() string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. Default is "autokit".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock sets the clock used to stamp run timestamps.
func WithClock(c model.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator overrides run identity generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// New creates a store over client. The store owns the client and closes it.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: "autokit",
		clock:  model.SystemClock{},
		newID:  model.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) workflowKey(id string) string { return fmt.Sprintf("%s:workflow:%s", s.prefix, id) }
func (s *Store) workflowIndex() string        { return s.prefix + ":workflows" }
func (s *Store) runKey(id string) string      { return fmt.Sprintf("%s:run:%s", s.prefix, id) }
func (s *Store) runIndex() string             { return s.prefix + ":runs" }
func (s *Store) seqKey() string               { return s.prefix + ":seq" }

// UpsertWorkflow writes the workflow hash and indexes it in one MULTI.
func (s *Store) UpsertWorkflow(ctx context.Context, w model.Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return model.NewPersistenceError("upsert workflow: next seq", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, s.workflowKey(w.ID), map[string]any{
			"id":         w.ID,
			"name":       w.Name,
			"definition": w.Definition,
			"status":     string(w.Status),
		})
		p.ZAddNX(ctx, s.workflowIndex(), goredis.Z{Score: float64(seq), Member: w.ID})
		return nil
	})
	if err != nil {
		return model.NewPersistenceError("upsert workflow", err)
	}
	return nil
}

// DeleteWorkflow removes the hash and its index entry.
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, s.workflowKey(id))
		p.ZRem(ctx, s.workflowIndex(), id)
		return nil
	})
	if err != nil {
		return model.NewPersistenceError("delete workflow", err)
	}
	return nil
}

// GetWorkflow returns a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (model.Workflow, error) {
	fields, err := s.client.HGetAll(ctx, s.workflowKey(id)).Result()
	if err != nil {
		return model.Workflow{}, model.NewPersistenceError("get workflow", err)
	}
	if len(fields) == 0 {
		return model.Workflow{}, model.NewNotFoundError("workflow", id)
	}
	return decodeWorkflow(fields), nil
}

// GetAllWorkflows returns workflows in first-insertion order.
func (s *Store) GetAllWorkflows(ctx context.Context) ([]model.Workflow, error) {
	ids, err := s.client.ZRange(ctx, s.workflowIndex(), 0, -1).Result()
	if err != nil {
		return nil, model.NewPersistenceError("list workflows", err)
	}
	hashes, err := s.fetchAll(ctx, ids, s.workflowKey)
	if err != nil {
		return nil, model.NewPersistenceError("list workflows", err)
	}

	workflows := make([]model.Workflow, 0, len(hashes))
	for _, h := range hashes {
		workflows = append(workflows, decodeWorkflow(h))
	}
	return workflows, nil
}

// GetWorkflowCount returns the number of indexed workflows.
func (s *Store) GetWorkflowCount(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.workflowIndex()).Result()
	if err != nil {
		return 0, model.NewPersistenceError("count workflows", err)
	}
	return int(n), nil
}

// UpsertRun merges r into the stored run under WATCH on its key.
func (s *Store) UpsertRun(ctx context.Context, r model.Run) (string, error) {
	if r.ID == "" {
		r.ID = s.newID()
	}
	key := s.runKey(r.ID)

	var (
		result   model.Run
		mergeErr error
	)
	txf := func(tx *goredis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		now := s.clock.Now()
		create := len(fields) == 0
		if create {
			result, mergeErr = model.NewRun(r, now)
		} else {
			existing, err := decodeRun(fields)
			if err != nil {
				return err
			}
			result, mergeErr = model.MergeRun(existing, r, now)
		}
		if mergeErr != nil {
			return mergeErr
		}

		var seq int64
		if create {
			if seq, err = tx.Incr(ctx, s.seqKey()).Result(); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key, encodeRun(result))
			if create {
				p.ZAddNX(ctx, s.runIndex(), goredis.Z{Score: float64(seq), Member: result.ID})
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result.ID, nil
		}
		if mergeErr != nil {
			return "", mergeErr
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return "", model.NewPersistenceError("upsert run", err)
		}
	}
	return "", model.NewPersistenceError("upsert run", fmt.Errorf("too much contention on %s", key))
}

// DeleteRun removes the run hash and its index entry.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, s.runKey(id))
		p.ZRem(ctx, s.runIndex(), id)
		return nil
	})
	if err != nil {
		return model.NewPersistenceError("delete run", err)
	}
	return nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (model.Run, error) {
	fields, err := s.client.HGetAll(ctx, s.runKey(id)).Result()
	if err != nil {
		return model.Run{}, model.NewPersistenceError("get run", err)
	}
	if len(fields) == 0 {
		return model.Run{}, model.NewNotFoundError("run", id)
	}
	r, err := decodeRun(fields)
	if err != nil {
		return model.Run{}, model.NewPersistenceError("get run", err)
	}
	return r, nil
}

// GetAllRuns returns runs in creation order.
func (s *Store) GetAllRuns(ctx context.Context) ([]model.Run, error) {
	return s.listRuns(ctx, func(model.Run) bool { return true })
}

// GetRunCount returns the number of indexed runs.
func (s *Store) GetRunCount(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.runIndex()).Result()
	if err != nil {
		return 0, model.NewPersistenceError("count runs", err)
	}
	return int(n), nil
}

// ListRunsByStatus returns runs in status, in creation order.
func (s *Store) ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]model.Run, error) {
	return s.listRuns(ctx, func(r model.Run) bool { return r.Status == status })
}

func (s *Store) listRuns(ctx context.Context, keep func(model.Run) bool) ([]model.Run, error) {
	ids, err := s.client.ZRange(ctx, s.runIndex(), 0, -1).Result()
	if err != nil {
		return nil, model.NewPersistenceError("list runs", err)
	}
	hashes, err := s.fetchAll(ctx, ids, s.runKey)
	if err != nil {
		return nil, model.NewPersistenceError("list runs", err)
	}

	runs := make([]model.Run, 0, len(hashes))
	for _, h := range hashes {
		r, err := decodeRun(h)
		if err != nil {
			return nil, model.NewPersistenceError("list runs", err)
		}
		if keep(r) {
			runs = append(runs, r)
		}
	}
	return runs, nil
}

// fetchAll pipelines HGETALL for ids, skipping records deleted since the
// index was read.
func (s *Store) fetchAll(ctx context.Context, ids []string, key func(string) string) ([]map[string]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, key(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]map[string]string, 0, len(cmds))
	for _, cmd := range cmds {
		if h := cmd.Val(); len(h) > 0 {
			out = append(out, h)
		}
	}
	return out, nil
}

func decodeWorkflow(h map[string]string) model.Workflow {
	return model.Workflow{
		ID:         h["id"],
		Name:       h["name"],
		Definition: h["definition"],
		Status:     model.WorkflowStatus(h["status"]),
	}
}

func encodeRun(r model.Run) map[string]any {
	var ended int64
	if r.Ended() {
		ended = r.EndedAt.UnixMilli()
	}
	return map[string]any{
		"id":          r.ID,
		"workflow_id": r.WorkflowID,
		"started_at":  r.StartedAt.UnixMilli(),
		"ended_at":    ended,
		"status":      string(r.Status),
		"log":         r.Log,
	}
}

func decodeRun(h map[string]string) (model.Run, error) {
	started, err := strconv.ParseInt(h["started_at"], 10, 64)
	if err != nil {
		return model.Run{}, fmt.Errorf("decode run %s started_at: %w", h["id"], err)
	}
	ended, err := strconv.ParseInt(h["ended_at"], 10, 64)
	if err != nil {
		return model.Run{}, fmt.Errorf("decode run %s ended_at: %w", h["id"], err)
	}

	r := model.Run{
		ID:         h["id"],
		WorkflowID: h["workflow_id"],
		StartedAt:  time.UnixMilli(started),
		Status:     model.RunStatus(h["status"]),
		Log:        h["log"],
	}
	if ended != 0 {
		r.EndedAt = time.UnixMilli(ended)
	}
	return r, nil
}
