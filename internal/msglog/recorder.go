package msglog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Recorder is the message log capability consumed by dispatchers, webhook
// processing and the dashboard. Backed by Postgres in normal operation and by
// MemoryRecorder in offline/demo mode.
type Recorder interface {
	Log(ctx context.Context, rec Record) (Entry, error)
	UpdateStatus(ctx context.Context, messageID, status string, errorDetails *string) error
	LatestStatuses(ctx context.Context, appointmentIDs []int64) (map[int64]Entry, error)
}

var _ Recorder = (*Store)(nil)

// MemoryRecorder keeps the log in memory with the same upsert semantics as
// the Postgres store. Used when the database is unreachable, and in tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	nextID  int64
	entries []Entry
}

// NewMemoryRecorder builds an empty in-memory log.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{nextID: 1}
}

var _ Recorder = (*MemoryRecorder)(nil)

func mergeField(incoming, existing *string) *string {
	if incoming != nil {
		return incoming
	}
	return existing
}

// Log upserts by message id, keeping existing non-null values when the
// incoming field is null.
func (m *MemoryRecorder) Log(_ context.Context, rec Record) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if rec.MessageID != nil {
		for i := range m.entries {
			existing := &m.entries[i]
			if existing.MessageID == nil || *existing.MessageID != *rec.MessageID {
				continue
			}
			if rec.AppointmentID != nil {
				existing.AppointmentID = rec.AppointmentID
			}
			existing.Phone = mergeField(rec.Phone, existing.Phone)
			existing.Type = mergeField(rec.Type, existing.Type)
			existing.TemplateName = mergeField(rec.TemplateName, existing.TemplateName)
			existing.Status = mergeField(rec.Status, existing.Status)
			existing.ErrorDetails = mergeField(rec.ErrorDetails, existing.ErrorDetails)
			existing.UpdatedAt = now
			return *existing, nil
		}
	}

	entry := Entry{
		ID:            m.nextID,
		AppointmentID: rec.AppointmentID,
		Phone:         rec.Phone,
		MessageID:     rec.MessageID,
		Type:          rec.Type,
		TemplateName:  rec.TemplateName,
		Status:        rec.Status,
		ErrorDetails:  rec.ErrorDetails,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.nextID++
	m.entries = append(m.entries, entry)
	return entry, nil
}

// UpdateStatus mirrors the Postgres store: empty ids and unmatched rows are
// silently accepted.
func (m *MemoryRecorder) UpdateStatus(_ context.Context, messageID, status string, errorDetails *string) error {
	if messageID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		entry := &m.entries[i]
		if entry.MessageID != nil && *entry.MessageID == messageID {
			s := status
			entry.Status = &s
			entry.ErrorDetails = errorDetails
			entry.UpdatedAt = time.Now()
		}
	}
	return nil
}

// LatestStatuses returns the newest entry per appointment id.
func (m *MemoryRecorder) LatestStatuses(_ context.Context, appointmentIDs []int64) (map[int64]Entry, error) {
	out := make(map[int64]Entry)
	if len(appointmentIDs) == 0 {
		return out, nil
	}
	wanted := make(map[int64]bool, len(appointmentIDs))
	for _, id := range appointmentIDs {
		wanted[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := make([]Entry, len(m.entries))
	copy(sorted, m.entries)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	for _, entry := range sorted {
		if entry.AppointmentID == nil || !wanted[*entry.AppointmentID] {
			continue
		}
		if _, seen := out[*entry.AppointmentID]; !seen {
			out[*entry.AppointmentID] = entry
		}
	}
	return out, nil
}
