package attendance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gymops/internal/faceclient"
	"gymops/internal/live"
	"gymops/internal/lock"
	"gymops/internal/queue"
)

type memStore struct {
	mu        sync.Mutex
	records   []Record
	staleOnce bool
	appends   int
}

func (s *memStore) LastRecord(_ context.Context, memberID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].MemberID == memberID {
			r := s.records[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (s *memStore) RecordsBetween(_ context.Context, memberID string, from, to time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if r.MemberID == memberID && !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) DayRecords(_ context.Context, from, to time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) AppendRecord(_ context.Context, rec Record, prevID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if s.staleOnce {
		s.staleOnce = false
		return ErrStale
	}
	var cur *string
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].MemberID == rec.MemberID {
			cur = &s.records[i].ID
			break
		}
	}
	if (cur == nil) != (prevID == nil) || (cur != nil && *cur != *prevID) {
		return ErrStale
	}
	s.records = append(s.records, rec)
	return nil
}

type fakeDirectory struct {
	subjects map[string]Subject
	faces    map[string]string
	marked   []string
}

func (d *fakeDirectory) MemberByFace(_ context.Context, faceID string) (string, error) {
	id, ok := d.faces[faceID]
	if !ok {
		return "", ErrNoMatch
	}
	return id, nil
}

func (d *fakeDirectory) Subject(_ context.Context, memberID string, _, _, _ time.Time) (Subject, error) {
	s, ok := d.subjects[memberID]
	if !ok {
		return Subject{MemberID: memberID}, nil
	}
	return s, nil
}

func (d *fakeDirectory) MarkEnrollmentAttended(_ context.Context, memberID, classID string, _, _, _ time.Time) (int64, error) {
	d.marked = append(d.marked, memberID+"/"+classID)
	return 1, nil
}

type fakeFace struct {
	match    string
	verified bool
}

func (f fakeFace) Identify(context.Context, string) (*faceclient.Match, error) {
	if f.match == "" {
		return nil, faceclient.ErrNoMatch
	}
	return &faceclient.Match{FaceID: f.match, Similarity: 0.9}, nil
}

func (f fakeFace) Verify(context.Context, string, string) (bool, error) { return f.verified, nil }

type recordingHub struct {
	mu     sync.Mutex
	events []live.Event
}

func (h *recordingHub) Broadcast(ev live.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *memStore
	dir   *fakeDirectory
	q     *queue.InMemory
	hub   *recordingHub
	clk   *clock
}

func newFixture() *fixture {
	f := &fixture{
		store: &memStore{},
		dir: &fakeDirectory{
			subjects: map[string]Subject{"m-1": {MemberID: "m-1", Name: "Ana Reyes"}},
			faces:    map[string]string{"face-1": "m-1"},
		},
		q:   queue.NewInMemory(64),
		hub: &recordingHub{},
		clk: &clock{now: at(8, 0)},
	}
	f.svc = NewService(NewEngine(DefaultPolicy(), nil), f.store, f.dir, lock.NewMemory(), Options{
		Publisher: f.q,
		Live:      f.hub,
		Face:      fakeFace{match: "face-1", verified: true},
		Clock:     f.clk.Now,
	})
	return f
}

func TestServiceLogCommitsAndPublishes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	d, err := f.svc.Log(ctx, Event{MemberID: "m-1"})
	if err != nil {
		t.Fatal(err)
	}
	c, ok := d.(Commit)
	if !ok || c.Record.LogType != Login {
		t.Fatalf("expected login commit, got %+v", d)
	}
	if c.Record.MemberName != "Ana Reyes" {
		t.Fatalf("member name = %q", c.Record.MemberName)
	}

	stored, _ := f.store.LastRecord(ctx, "m-1")
	if stored == nil || stored.ID != c.Record.ID {
		t.Fatalf("persisted record must be the committed one, got %+v", stored)
	}

	ctxC, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	msgs, _ := f.q.Consume(ctxC)
	msg := <-msgs
	if msg.Type != queue.TypeAttendanceCommitted {
		t.Fatalf("type = %q", msg.Type)
	}
	var ev CommittedEvent
	if err := msg.Decode(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Record.ID != c.Record.ID || ev.Day != "2026-03-14" {
		t.Fatalf("unexpected payload %+v", ev)
	}
	if len(f.hub.events) != 1 {
		t.Fatalf("expected one live event, got %d", len(f.hub.events))
	}
}

func TestServiceDuplicateWithinWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Log(ctx, Event{MemberID: "m-1"}); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(3 * time.Second)
	d, err := f.svc.Log(ctx, Event{MemberID: "m-1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(NoOp); !ok {
		t.Fatalf("expected NoOp, got %T", d)
	}
	if n := len(f.store.records); n != 1 {
		t.Fatalf("expected a single stored record, got %d", n)
	}
}

func TestServiceConcurrentEventsCommitOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	kinds := map[string]int{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.svc.Log(ctx, Event{MemberID: "m-1"})
			if err != nil {
				t.Errorf("log: %v", err)
				return
			}
			mu.Lock()
			kinds[d.Kind()]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if kinds["commit"] != 1 || kinds["noop"] != n-1 {
		t.Fatalf("expected 1 commit and %d noops, got %v", n-1, kinds)
	}
	if len(f.store.records) != 1 || f.store.records[0].LogType != Login {
		t.Fatalf("unexpected stored records %+v", f.store.records)
	}
}

func TestServiceAlternatesThroughTheDay(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	want := []string{"commit", "already_logged_in", "commit", "commit"}
	steps := []time.Duration{0, 10 * time.Minute, 50 * time.Minute, time.Hour}
	var got []string
	for _, step := range steps {
		f.clk.Advance(step)
		d, err := f.svc.Log(ctx, Event{MemberID: "m-1"})
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, d.Kind())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: got %s want %s (all: %v)", i, got[i], want[i], got)
		}
	}
	types := []LogType{}
	for _, r := range f.store.records {
		types = append(types, r.LogType)
	}
	if len(types) != 3 || types[0] != Login || types[1] != Logout || types[2] != Login {
		t.Fatalf("stored sequence = %v", types)
	}
}

func TestServiceRetriesStaleAppend(t *testing.T) {
	f := newFixture()
	f.store.staleOnce = true

	d, err := f.svc.Log(context.Background(), Event{MemberID: "m-1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(Commit); !ok {
		t.Fatalf("expected commit after retry, got %T", d)
	}
	if f.store.appends != 2 {
		t.Fatalf("expected 2 append attempts, got %d", f.store.appends)
	}
}

func TestServiceSelectionRoundTrip(t *testing.T) {
	f := newFixture()
	f.clk.now = at(9, 50)
	f.dir.subjects["m-1"] = Subject{
		MemberID: "m-1",
		Plan:     Plan{Monthly: true, Combative: true},
		Sessions: []Session{{ClassID: "muay-thai", Start: at(10, 0), End: at(11, 0)}},
	}
	ctx := context.Background()

	d, err := f.svc.Log(ctx, Event{MemberID: "m-1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(RequiresSelection); !ok {
		t.Fatalf("expected RequiresSelection, got %T", d)
	}
	if len(f.store.records) != 0 {
		t.Fatal("selection must not write")
	}

	d, err = f.svc.Log(ctx, Event{MemberID: "m-1", Choice: &Choice{Type: AttendedBoth}})
	if err != nil {
		t.Fatal(err)
	}
	c, ok := d.(Commit)
	if !ok || c.Record.AttendedType != AttendedBoth {
		t.Fatalf("expected commit of chosen type, got %+v", d)
	}

	if err := f.svc.HandleCommitted(ctx, CommittedEvent{Record: c.Record}); err != nil {
		t.Fatal(err)
	}
	if len(f.dir.marked) != 1 || f.dir.marked[0] != "m-1/muay-thai" {
		t.Fatalf("enrollment not marked: %v", f.dir.marked)
	}
}

func TestHandleCommittedIgnoresGymAndLogout(t *testing.T) {
	f := newFixture()
	class := "c"
	for _, r := range []Record{
		{MemberID: "m-1", LogType: Login, AttendedType: AttendedGym},
		{MemberID: "m-1", LogType: Logout, AttendedType: AttendedCombative, ClassID: &class},
	} {
		if err := f.svc.HandleCommitted(context.Background(), CommittedEvent{Record: r}); err != nil {
			t.Fatal(err)
		}
	}
	if len(f.dir.marked) != 0 {
		t.Fatalf("nothing should be marked, got %v", f.dir.marked)
	}
}

func TestServiceIdentify(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.svc.Identify(ctx, "", "https://img/a.jpg")
	if err != nil || id != "m-1" {
		t.Fatalf("identify by image: %q %v", id, err)
	}
	id, err = f.svc.Identify(ctx, "face-1", "")
	if err != nil || id != "m-1" {
		t.Fatalf("identify by face id: %q %v", id, err)
	}
	if _, err := f.svc.Identify(ctx, "face-unknown", ""); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}
	if _, err := f.svc.Identify(ctx, "", ""); !errors.Is(err, ErrMemberRequired) {
		t.Fatalf("expected ErrMemberRequired, got %v", err)
	}

	f.svc.face = fakeFace{}
	if _, err := f.svc.Identify(ctx, "", "https://img/b.jpg"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch for unknown face, got %v", err)
	}
	if _, err := f.svc.Identify(ctx, "face-1", "https://img/b.jpg"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("failed verification must be a no match, got %v", err)
	}
}

func TestServiceToday(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.Log(ctx, Event{MemberID: "m-1"}); err != nil {
		t.Fatal(err)
	}
	sum, err := f.svc.Today(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalCheckins != 1 || sum.CurrentlyIn != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestMemberHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	day := at(0, 0)
	f.store.records = []Record{
		rec("a", Login, day.Add(-time.Hour)),
		rec("b", Login, at(9, 0)),
		rec("c", Logout, at(11, 0)),
		{ID: "d", MemberID: "m-2", LogType: Login, Timestamp: at(10, 0), AttendedType: AttendedGym},
		rec("e", Logout, day.AddDate(0, 0, 1).Add(23*time.Hour)),
		rec("f", Login, day.AddDate(0, 0, 2)),
	}

	got, err := f.svc.MemberHistory(ctx, "m-1", day.Add(15*time.Hour), day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "b,c,e" {
		t.Fatalf("history ids = %v", ids)
	}

	if _, err := f.svc.MemberHistory(ctx, "m-1", day.AddDate(0, 0, 1), day); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("reversed period: %v", err)
	}
	if _, err := f.svc.MemberHistory(ctx, "m-1", day, day.AddDate(0, 0, MaxHistoryDays)); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("oversized period: %v", err)
	}
	if _, err := f.svc.MemberHistory(ctx, "m-1", day, day.AddDate(0, 0, MaxHistoryDays-1)); err != nil {
		t.Fatalf("longest period: %v", err)
	}
	if _, err := f.svc.MemberHistory(ctx, "", day, day); !errors.Is(err, ErrMemberRequired) {
		t.Fatalf("missing member: %v", err)
	}
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("PHT", 8*3600)
	from, to := DayBounds(time.Date(2026, 3, 14, 23, 59, 0, 0, loc))
	if !from.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, loc)) || to.Sub(from) != 24*time.Hour {
		t.Fatalf("bounds = %v %v", from, to)
	}
}
