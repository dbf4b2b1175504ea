package memory

import (
	"context"
	"sort"
	"sync"

	"task-management-api/internal/model"
	"task-management-api/internal/repository"
)

type AuditStore struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Log(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *AuditStore) Query(_ context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query = repository.NormalizeAuditQuery(query)

	s.mu.Lock()
	items := make([]model.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if query.ActorID != "" && e.Actor.UserID != query.ActorID {
			continue
		}
		if query.Action != "" && e.Action != query.Action {
			continue
		}
		if query.Status != "" && e.Status != query.Status {
			continue
		}
		items = append(items, e)
	}
	s.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].OccurredAt.After(items[j].OccurredAt)
	})

	total := len(items)
	start := min((query.Page-1)*query.Limit, total)
	end := min(start+query.Limit, total)

	return items[start:end], repository.PageMeta(query, total), nil
}
