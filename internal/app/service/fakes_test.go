package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sifan077/PowerPulse/internal/app/cache"
	"github.com/sifan077/PowerPulse/internal/app/model"
	"github.com/sifan077/PowerPulse/internal/app/repository"
)

func strPtr(v string) *string { return &v }

// memCache is an in-memory AnalyticsCache. Err fields force failures.
type memCache struct {
	mu      sync.Mutex
	ints    map[string]int64
	stats   map[string]*model.StatsView
	owners  map[string]string
	seen    map[string]bool
	getErr  error
	incrErr error
	calls   int
}

var _ cache.AnalyticsCache = (*memCache)(nil)

func newMemCache() *memCache {
	return &memCache{
		ints:   map[string]int64{},
		stats:  map[string]*model.StatsView{},
		owners: map[string]string{},
		seen:   map[string]bool{},
	}
}

func (c *memCache) getInt(key string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.getErr != nil {
		return 0, false, c.getErr
	}
	v, ok := c.ints[key]
	return v, ok, nil
}

func (c *memCache) setInt(key string, v int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.ints[key] = v
	return nil
}

func (c *memCache) GetLocation(_ context.Context, key string) (int64, bool, error) {
	return c.getInt("location:" + key)
}

func (c *memCache) SetLocation(_ context.Context, key string, id int64) error {
	return c.setInt("location:"+key, id)
}

func (c *memCache) GetDevice(_ context.Context, key string) (int64, bool, error) {
	return c.getInt("device:" + key)
}

func (c *memCache) SetDevice(_ context.Context, key string, id int64) error {
	return c.setInt("device:"+key, id)
}

func (c *memCache) GetStats(_ context.Context, resourceID string) (*model.StatsView, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[resourceID]
	return s, ok, nil
}

func (c *memCache) SetStats(_ context.Context, resourceID string, stats *model.StatsView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[resourceID] = stats
	return nil
}

func (c *memCache) InvalidateStats(_ context.Context, resourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stats, resourceID)
	return nil
}

func (c *memCache) IncrementDayClicks(ctx context.Context, resourceID, date string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incrErr != nil {
		return 0, c.incrErr
	}
	key := "today:" + resourceID + ":" + date
	c.ints[key]++
	return c.ints[key], nil
}

func (c *memCache) GetDayClicks(_ context.Context, resourceID, date string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ints["today:"+resourceID+":"+date], nil
}

func (c *memCache) GetOwner(_ context.Context, resourceID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.owners[resourceID]
	return o, ok, nil
}

func (c *memCache) SetOwner(_ context.Context, resourceID, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[resourceID] = ownerID
	return nil
}

func (c *memCache) MarkSeen(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[eventID] = true
	return nil
}

func (c *memCache) Seen(_ context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[eventID], nil
}

// memLocations enforces the unique lookup key like the real table. When
// replicaLag is set the replica never sees any row.
type memLocations struct {
	mu         sync.Mutex
	rows       []model.Location
	replicaLag bool
	creates    int
	createErr  error
}

func (r *memLocations) find(key string) (*model.Location, error) {
	for i := range r.rows {
		if r.rows[i].LookupKey == key {
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memLocations) FindByKey(_ context.Context, key string) (*model.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replicaLag {
		return nil, repository.ErrNotFound
	}
	return r.find(key)
}

func (r *memLocations) FindByKeyPrimary(_ context.Context, key string) (*model.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(key)
}

func (r *memLocations) Create(_ context.Context, l *model.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	if _, err := r.find(l.LookupKey); err == nil {
		return repository.ErrDuplicateKey
	}
	l.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, *l)
	return nil
}

func (r *memLocations) GetByID(_ context.Context, id int64) (*model.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memLocations) List(_ context.Context, limit, offset int) ([]model.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Location(nil), r.rows...), nil
}

func (r *memLocations) ListByCountry(_ context.Context, code string) ([]model.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Location
	for _, row := range r.rows {
		if row.CountryCode == code {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memLocations) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

type memDevices struct {
	mu         sync.Mutex
	rows       []model.Device
	replicaLag bool
}

func (r *memDevices) find(key string) (*model.Device, error) {
	for i := range r.rows {
		if r.rows[i].LookupKey == key {
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memDevices) FindByKey(_ context.Context, key string) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replicaLag {
		return nil, repository.ErrNotFound
	}
	return r.find(key)
}

func (r *memDevices) FindByKeyPrimary(_ context.Context, key string) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(key)
}

func (r *memDevices) Create(_ context.Context, d *model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.find(d.LookupKey); err == nil {
		return repository.ErrDuplicateKey
	}
	d.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, *d)
	return nil
}

func (r *memDevices) GetByID(_ context.Context, id int64) (*model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			row := r.rows[i]
			return &row, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memDevices) List(context.Context, int, int) ([]model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Device(nil), r.rows...), nil
}

func (r *memDevices) ListByType(_ context.Context, t model.DeviceType) ([]model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Device
	for _, row := range r.rows {
		if row.DeviceType == t {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memDevices) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

type memClicks struct {
	mu        sync.Mutex
	rows      map[int64]model.ClickEvent
	next      int64
	createErr error
	clock     func() time.Time
	// afterCreate runs once a row is stored.
	afterCreate func()
}

func newMemClicks() *memClicks {
	return &memClicks{rows: map[int64]model.ClickEvent{}, clock: time.Now}
}

func (r *memClicks) Create(_ context.Context, e *model.ClickEvent) error {
	r.mu.Lock()
	if r.createErr != nil {
		r.mu.Unlock()
		return r.createErr
	}
	r.next++
	e.ID = r.next
	e.ClickedAt = r.clock()
	r.rows[e.ID] = *e
	hook := r.afterCreate
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (r *memClicks) GetByID(_ context.Context, id int64) (*model.ClickEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r *memClicks) ListByIDs(_ context.Context, ids []int64) ([]model.ClickEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ClickEvent
	for _, id := range ids {
		if e, ok := r.rows[id]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memReferences struct {
	mu        sync.Mutex
	rows      []model.ServiceReference
	createErr error
	queries   int
}

func (r *memReferences) Create(ctx context.Context, ref *model.ServiceReference) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, row := range r.rows {
		if row.LocalID == ref.LocalID && row.LocalTable == ref.LocalTable &&
			row.TargetID == ref.TargetID && row.TargetTable == ref.TargetTable {
			return nil
		}
	}
	ref.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, *ref)
	return nil
}

func (r *memReferences) FindLocalIDs(_ context.Context, q repository.ReferenceQuery) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	var ids []int64
	for _, row := range r.rows {
		if row.TargetID == q.TargetID && row.TargetTable == q.TargetTable && row.LocalTable == q.LocalTable {
			ids = append(ids, row.LocalID)
		}
	}
	if q.NewestFirst {
		sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	}
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	return ids, nil
}

func (r *memReferences) Count(_ context.Context, targetID int64, targetTable, localTable string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	var n int64
	for _, row := range r.rows {
		if row.TargetID == targetID && row.TargetTable == targetTable && row.LocalTable == localTable {
			n++
		}
	}
	return n, nil
}

type fakeAggregates struct {
	topCountriesFn func(ctx context.Context, targetID int64, w repository.AggregateWindow) ([]model.CountryCount, error)
	topDevicesFn   func(ctx context.Context, targetID int64, w repository.AggregateWindow) ([]model.DeviceCount, error)
}

func (f *fakeAggregates) TopCountries(ctx context.Context, targetID int64, w repository.AggregateWindow) ([]model.CountryCount, error) {
	if f.topCountriesFn != nil {
		return f.topCountriesFn(ctx, targetID, w)
	}
	return nil, nil
}

func (f *fakeAggregates) TopDevices(ctx context.Context, targetID int64, w repository.AggregateWindow) ([]model.DeviceCount, error) {
	if f.topDevicesFn != nil {
		return f.topDevicesFn(ctx, targetID, w)
	}
	return nil, nil
}

type mockOwnershipClient struct {
	isOwnerFn func(ctx context.Context, userID, resourceID string) (bool, error)
	mu        sync.Mutex
	calls     int
}

func (m *mockOwnershipClient) IsOwner(ctx context.Context, userID, resourceID string) (bool, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.isOwnerFn != nil {
		return m.isOwnerFn(ctx, userID, resourceID)
	}
	return false, nil
}

type recordingForwarder struct {
	mu   sync.Mutex
	sent []model.BatchClickData
}

func (f *recordingForwarder) Forward(data model.BatchClickData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
}

type broadcastRecord struct {
	resourceID string
	eventType  string
	data       any
}

type recordingBroadcaster struct {
	mu          sync.Mutex
	events      []broadcastRecord
	connections int
	subscribers map[string]int
	active      []string
}

func (b *recordingBroadcaster) Broadcast(resourceID, eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastRecord{resourceID, eventType, data})
}

func (b *recordingBroadcaster) ConnectionCount() int { return b.connections }

func (b *recordingBroadcaster) SubscriberCount(resourceID string) int { return b.subscribers[resourceID] }

func (b *recordingBroadcaster) ActiveResources() []string { return b.active }

func (b *recordingBroadcaster) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.eventType)
	}
	return out
}

// harness wires the services over in-memory collaborators.
type harness struct {
	cache       *memCache
	locations   *memLocations
	devices     *memDevices
	clicks      *memClicks
	references  *memReferences
	aggregates  *fakeAggregates
	owner       *mockOwnershipClient
	forwarder   *recordingForwarder
	broadcaster *recordingBroadcaster
	now         time.Time
	deps        ClickDeps
}

func newHarness() *harness {
	h := &harness{
		cache:       newMemCache(),
		locations:   &memLocations{},
		devices:     &memDevices{},
		clicks:      newMemClicks(),
		references:  &memReferences{},
		aggregates:  &fakeAggregates{},
		forwarder:   &recordingForwarder{},
		broadcaster: &recordingBroadcaster{subscribers: map[string]int{}},
		now:         time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	h.owner = &mockOwnershipClient{
		isOwnerFn: func(_ context.Context, userID, _ string) (bool, error) {
			return userID == "owner-1", nil
		},
	}
	h.clicks.clock = func() time.Time { return h.now }
	h.deps = ClickDeps{
		Clicks:      h.clicks,
		References:  h.references,
		Aggregates:  h.aggregates,
		Locations:   h.locations,
		Devices:     h.devices,
		Resolver:    NewDimensionResolver(h.locations, h.devices, h.cache, nil),
		Verifier:    NewOwnershipVerifier(h.owner, h.cache, nil),
		Cache:       h.cache,
		Forwarder:   h.forwarder,
		Broadcaster: h.broadcaster,
		Now:         func() time.Time { return h.now },
	}
	return h
}

func (h *harness) clickService() ClickService { return NewClickService(h.deps) }

func (h *harness) statsService() StatsService {
	return NewStatsService(h.deps, StatsWindow{TopN: 5, Days: 30})
}

func (r *memClicks) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
