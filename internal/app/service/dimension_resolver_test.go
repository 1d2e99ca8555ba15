package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sifan077/PowerPulse/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLocation_AbsentFieldsSkipCacheAndStore(t *testing.T) {
	h := newHarness()
	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)

	loc, err := r.ResolveLocation(context.Background(), LocationInput{City: strPtr("Seattle")})
	require.NoError(t, err)
	assert.Nil(t, loc)

	dev, err := r.ResolveDevice(context.Background(), DeviceInput{BrowserName: strPtr("Firefox")})
	require.NoError(t, err)
	assert.Nil(t, dev)

	assert.Zero(t, h.cache.calls)
	assert.Zero(t, h.locations.creates)
	assert.Empty(t, h.devices.rows)
}

func TestResolveLocation_CreatesThenHitsCache(t *testing.T) {
	h := newHarness()
	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)
	in := LocationInput{CountryCode: strPtr("us"), CountryName: strPtr("United States"), City: strPtr("Seattle")}

	first, err := r.ResolveLocation(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, first)

	// the store is now unreachable; the cached id must be served
	h.locations.createErr = errors.New("store down")
	h.locations.replicaLag = true
	second, err := r.ResolveLocation(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, *first, *second)
	assert.Equal(t, 1, h.locations.creates)

	row := h.locations.rows[0]
	assert.Equal(t, "US", row.CountryCode)
	assert.Equal(t, "Seattle", *row.City)
}

func TestResolveLocation_StoreHitPopulatesCache(t *testing.T) {
	h := newHarness()
	existing := &model.Location{CountryCode: "DE", CountryName: "Germany", LookupKey: model.LocationKey("DE", nil)}
	require.NoError(t, h.locations.Create(context.Background(), existing))
	h.locations.creates = 0

	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)
	id, err := r.ResolveLocation(context.Background(), LocationInput{CountryCode: strPtr("DE"), CountryName: strPtr("Germany")})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, *id)
	assert.Zero(t, h.locations.creates)

	cached, ok, _ := h.cache.GetLocation(context.Background(), model.LocationKey("DE", nil))
	assert.True(t, ok)
	assert.Equal(t, existing.ID, cached)
}

func TestResolveLocation_MissingCountryNameFallsBackToCode(t *testing.T) {
	h := newHarness()
	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)

	_, err := r.ResolveLocation(context.Background(), LocationInput{CountryCode: strPtr("fr")})
	require.NoError(t, err)
	require.Len(t, h.locations.rows, 1)
	assert.Equal(t, "FR", h.locations.rows[0].CountryName)
	assert.Nil(t, h.locations.rows[0].City)
}

func TestResolveLocation_AbsentAndEmptyCityAreDistinct(t *testing.T) {
	h := newHarness()
	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)

	absent, err := r.ResolveLocation(context.Background(), LocationInput{CountryCode: strPtr("US")})
	require.NoError(t, err)
	empty, err := r.ResolveLocation(context.Background(), LocationInput{CountryCode: strPtr("US"), City: strPtr("")})
	require.NoError(t, err)

	assert.NotEqual(t, *absent, *empty)
	assert.Len(t, h.locations.rows, 2)
}

func TestResolveLocation_ConcurrentRaceConverges(t *testing.T) {
	h := newHarness()
	h.locations.replicaLag = true
	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)
	in := LocationInput{CountryCode: strPtr("US"), CountryName: strPtr("United States"), City: strPtr("Seattle")}

	const callers = 16
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.ResolveLocation(context.Background(), in)
			if assert.NoError(t, err) {
				ids[i] = *id
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, h.locations.rows, 1)
	for _, id := range ids {
		assert.Equal(t, h.locations.rows[0].ID, id)
	}
	assert.Equal(t, "Seattle", *h.locations.rows[0].City)
}

func TestResolveLocation_CacheErrorFallsThrough(t *testing.T) {
	h := newHarness()
	h.cache.getErr = errors.New("redis down")
	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)

	id, err := r.ResolveLocation(context.Background(), LocationInput{CountryCode: strPtr("JP")})
	require.NoError(t, err)
	assert.NotNil(t, id)
}

func TestResolveLocation_StoreErrorIsReturned(t *testing.T) {
	h := newHarness()
	h.locations.createErr = errors.New("primary down")
	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)

	_, err := r.ResolveLocation(context.Background(), LocationInput{CountryCode: strPtr("JP")})
	assert.Error(t, err)
}

func TestResolveDevice_AbsentBrowserAndOSDistinctFromEmpty(t *testing.T) {
	h := newHarness()
	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)

	a, err := r.ResolveDevice(context.Background(), DeviceInput{DeviceType: strPtr("mobile")})
	require.NoError(t, err)
	b, err := r.ResolveDevice(context.Background(), DeviceInput{DeviceType: strPtr("mobile"), BrowserName: strPtr("")})
	require.NoError(t, err)
	again, err := r.ResolveDevice(context.Background(), DeviceInput{DeviceType: strPtr("Mobile")})
	require.NoError(t, err)

	assert.NotEqual(t, *a, *b)
	assert.Equal(t, *a, *again)
	assert.Len(t, h.devices.rows, 2)
	assert.Equal(t, model.DeviceMobile, h.devices.rows[0].DeviceType)
}

func TestResolveDevice_UnrecognisedTypeMapsToUnknown(t *testing.T) {
	h := newHarness()
	r := NewDimensionResolver(h.locations, h.devices, h.cache, nil)

	_, err := r.ResolveDevice(context.Background(), DeviceInput{DeviceType: strPtr("smartwatch")})
	require.NoError(t, err)
	require.Len(t, h.devices.rows, 1)
	assert.Equal(t, model.DeviceUnknown, h.devices.rows[0].DeviceType)
}
