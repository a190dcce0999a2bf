package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/util"
)

// InMemoryStore keeps everything in process memory. It is used by tests and dry runs.
type InMemoryStore struct {
	mu sync.Mutex

	users      map[int64]models.User
	profiles   map[int64]models.Profile
	entries    []models.Entry
	habits     map[int64][]models.Habit
	abstinence map[int64][]models.Abstinence
	memories   []models.MemoryNote
	moods      []models.MoodRecord
	pomodoros  []models.PomodoroRecord
	payments   map[string]models.Payment
	flows      map[int64]models.FlowSession
	focus      map[int64]models.FocusSession
	jobs       map[string]*Job
	outbox     map[string]*OutboxMessage
	dedup      map[string]*DedupRecord
	seq        int64
}

var _ DurableStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:      make(map[int64]models.User),
		profiles:   make(map[int64]models.Profile),
		habits:     make(map[int64][]models.Habit),
		abstinence: make(map[int64][]models.Abstinence),
		payments:   make(map[string]models.Payment),
		flows:      make(map[int64]models.FlowSession),
		focus:      make(map[int64]models.FocusSession),
		jobs:       make(map[string]*Job),
		outbox:     make(map[string]*OutboxMessage),
		dedup:      make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *InMemoryStore) UpsertUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	}
	s.users[u.ID] = u
	return nil
}

func (s *InMemoryStore) SaveSettings(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.users[u.ID]
	if !ok {
		s.users[u.ID] = u
		return nil
	}
	prev.Timezone = u.Timezone
	prev.MorningHour = u.MorningHour
	prev.EveningHour = u.EveningHour
	prev.Locale = u.Locale
	prev.Persona = u.Persona
	s.users[u.ID] = prev
	return nil
}

func (s *InMemoryStore) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) SetPlan(_ context.Context, id int64, tier models.PlanTier, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("set plan for user %d: %w", id, ErrNotFound)
	}
	u.PlanTier = tier
	u.SubscriptionUntil = &until
	s.users[id] = u
	return nil
}

func (s *InMemoryStore) SaveEntry(_ context.Context, userID int64, date string, typ models.EntryType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode entry payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.UserID == userID && e.Date == date && e.Type == typ {
			s.entries[i].Payload = data
			return nil
		}
	}
	s.entries = append(s.entries, models.Entry{
		ID: s.nextID(), UserID: userID, Date: date, Type: typ, Payload: data, CreatedAt: time.Now(),
	})
	return nil
}

func (s *InMemoryStore) TodayHas(_ context.Context, userID int64, typ models.EntryType, date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.UserID == userID && e.Type == typ && e.Date == date {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ListEntriesSince(_ context.Context, userID int64, sinceDate string) ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Entry
	for _, e := range s.entries {
		if e.UserID == userID && e.Date >= sinceDate {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) TickHabit(_ context.Context, userID int64, name, today string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.habits[userID]
	for i := range hs {
		if hs[i].Name == name {
			hs[i].Streak = nextStreak(hs[i].Streak, hs[i].LastTick, today)
			hs[i].LastTick = today
			return hs[i].Streak, nil
		}
	}
	s.habits[userID] = append(hs, models.Habit{UserID: userID, Name: name, Streak: 1, LastTick: today})
	return 1, nil
}

func (s *InMemoryStore) ListHabits(_ context.Context, userID int64) ([]models.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Habit(nil), s.habits[userID]...), nil
}

func (s *InMemoryStore) CountHabits(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.habits[userID]), nil
}

func (s *InMemoryStore) RenameHabit(_ context.Context, userID int64, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.habits[userID] {
		if h.Name == oldName {
			s.habits[userID][i].Name = newName
			return nil
		}
	}
	return fmt.Errorf("rename habit %q: %w", oldName, ErrNotFound)
}

func (s *InMemoryStore) DeleteHabit(_ context.Context, userID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.habits[userID]
	for i, h := range hs {
		if h.Name == name {
			s.habits[userID] = append(hs[:i:i], hs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete habit %q: %w", name, ErrNotFound)
}

func (s *InMemoryStore) AddAbstinence(_ context.Context, userID int64, name, startDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	as := s.abstinence[userID]
	for i := range as {
		if as[i].Name == name {
			as[i].StartDate = startDate
			return nil
		}
	}
	s.abstinence[userID] = append(as, models.Abstinence{UserID: userID, Name: name, StartDate: startDate})
	return nil
}

func (s *InMemoryStore) ListAbstinence(_ context.Context, userID int64) ([]models.Abstinence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Abstinence(nil), s.abstinence[userID]...), nil
}

func (s *InMemoryStore) DeleteAbstinence(_ context.Context, userID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	as := s.abstinence[userID]
	for i, a := range as {
		if a.Name == name {
			s.abstinence[userID] = append(as[:i:i], as[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete abstinence %q: %w", name, ErrNotFound)
}

func (s *InMemoryStore) AddMemory(_ context.Context, userID int64, kind models.MemoryKind, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append(s.memories, models.MemoryNote{
		ID: s.nextID(), UserID: userID, Kind: kind, Content: content, CreatedAt: time.Now(),
	})
	return nil
}

func (s *InMemoryStore) RecentMemories(_ context.Context, userID int64, n int) ([]models.MemoryNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MemoryNote
	for i := len(s.memories) - 1; i >= 0 && len(out) < n; i-- {
		if s.memories[i].UserID == userID {
			out = append(out, s.memories[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) DeleteMemoriesSince(_ context.Context, userID int64, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.memories[:0]
	deleted := 0
	for _, m := range s.memories {
		if m.UserID == userID && !m.CreatedAt.Before(since) {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	s.memories = kept
	return deleted, nil
}

func (s *InMemoryStore) SaveMood(_ context.Context, m models.MoodRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.nextID()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.moods = append(s.moods, m)
	return nil
}

func (s *InMemoryStore) ListMoodsSince(_ context.Context, userID int64, sinceDate string) ([]models.MoodRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MoodRecord
	for _, m := range s.moods {
		if m.UserID == userID && m.Date >= sinceDate {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemoryStore) LogPomodoro(_ context.Context, p models.PomodoroRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID()
	s.pomodoros = append(s.pomodoros, p)
	return nil
}

func (s *InMemoryStore) CountPomodorosSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	ps, err := s.ListPomodorosSince(ctx, userID, since)
	return len(ps), err
}

func (s *InMemoryStore) ListPomodorosSince(_ context.Context, userID int64, since time.Time) ([]models.PomodoroRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PomodoroRecord
	for _, p := range s.pomodoros {
		if p.UserID == userID && !p.StartedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) SaveProfile(_ context.Context, userID int64, p models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = p
	return nil
}

func (s *InMemoryStore) GetProfile(_ context.Context, userID int64) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) RecordPayment(_ context.Context, p models.Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ExternalID]; ok {
		return false, nil
	}
	s.payments[p.ExternalID] = p
	return true, nil
}

func (s *InMemoryStore) GetFlowSession(_ context.Context, userID int64) (*models.FlowSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.flows[userID]
	if !ok {
		return nil, nil
	}
	return fs.Clone(), nil
}

func (s *InMemoryStore) SaveFlowSession(_ context.Context, fs models.FlowSession, expectedVersion int64) error {
	if err := checkVersion("save flow session", fs.Version, expectedVersion); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.flows[fs.UserID]
	if (expectedVersion == 0 && ok) || (expectedVersion != 0 && (!ok || cur.Version != expectedVersion)) {
		return fmt.Errorf("save flow session for user %d at version %d: %w", fs.UserID, expectedVersion, ErrVersionConflict)
	}
	s.flows[fs.UserID] = *fs.Clone()
	return nil
}

func (s *InMemoryStore) DeleteFlowSession(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, userID)
	return nil
}

func (s *InMemoryStore) GetFocusSession(_ context.Context, userID int64) (*models.FocusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.focus[userID]
	if !ok {
		return nil, nil
	}
	return &fs, nil
}

func (s *InMemoryStore) SaveFocusSession(_ context.Context, fs models.FocusSession, expectedVersion int64) error {
	if err := checkVersion("save focus session", fs.Version, expectedVersion); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.focus[fs.UserID]
	if expectedVersion == 0 && ok {
		return fmt.Errorf("save focus session %s: %w", fs.ID, ErrVersionConflict)
	}
	if expectedVersion != 0 && (!ok || cur.ID != fs.ID || cur.Version != expectedVersion) {
		return fmt.Errorf("save focus session %s at version %d: %w", fs.ID, expectedVersion, ErrVersionConflict)
	}
	s.focus[fs.UserID] = fs
	return nil
}

func (s *InMemoryStore) DeleteFocusSession(_ context.Context, userID int64, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.focus[userID]; ok && cur.ID == sessionID {
		delete(s.focus, userID)
	}
	return nil
}

func (s *InMemoryStore) ListFocusSessions(_ context.Context) ([]models.FocusSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FocusSession, 0, len(s.focus))
	for _, fs := range s.focus {
		out = append(out, fs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// --- jobs ---

func (s *InMemoryStore) EnqueueJob(_ context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && j.Status != JobStatusCanceled {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	j := &Job{
		ID: util.GenerateRandomID("job_", 32), Kind: kind, RunAt: runAt, PayloadJSON: payloadJSON,
		Status: JobStatusQueued, MaxAttempts: 3, DedupeKey: dedupeKey, CreatedAt: now, UpdatedAt: now,
	}
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *InMemoryStore) ClaimDueJobs(_ context.Context, now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]Job, 0, len(due))
	for _, j := range due {
		locked := now
		j.Status = JobStatusRunning
		j.LockedAt = &locked
		out = append(out, *j)
	}
	return out, nil
}

func (s *InMemoryStore) setJobStatus(id string, status JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	j.Status = status
	j.LockedAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) CompleteJob(_ context.Context, id string) error {
	return s.setJobStatus(id, JobStatusDone)
}

func (s *InMemoryStore) CancelJob(_ context.Context, id string) error {
	return s.setJobStatus(id, JobStatusCanceled)
}

func (s *InMemoryStore) FailJob(_ context.Context, id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(_ context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	c := *j
	return &c, nil
}

// --- outbox ---

func (s *InMemoryStore) EnqueueOutboxMessage(_ context.Context, userID int64, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := &OutboxMessage{
		ID: util.GenerateRandomID("outbox_", 32), UserID: userID, Kind: kind, PayloadJSON: payloadJSON,
		Status: OutboxStatusQueued, DedupeKey: dedupeKey, CreatedAt: now, UpdatedAt: now,
	}
	s.outbox[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(_ context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].CreatedAt.Before(due[b].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]OutboxMessage, 0, len(due))
	for _, m := range due {
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox message %s: %w", id, ErrNotFound)
	}
	m.Status = OutboxStatusSent
	m.LockedAt = nil
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(_ context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox message %s: %w", id, ErrNotFound)
	}
	m.Attempts++
	m.LastError = errMsg
	m.LockedAt = nil
	m.NextAttemptAt = &nextAttemptAt
	if m.Attempts >= maxOutboxAttempts {
		m.Status = OutboxStatusFailed
	} else {
		m.Status = OutboxStatusQueued
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(_ context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			n++
		}
	}
	return n, nil
}

// --- dedup ---

func (s *InMemoryStore) IsDuplicate(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID string, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok {
		now := time.Now()
		r.ProcessedAt = &now
	}
	return nil
}
