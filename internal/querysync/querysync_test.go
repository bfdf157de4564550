package querysync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/homefinder/api/internal/filter"
	"github.com/stwalsh4118/homefinder/api/internal/logger"
)

func TestEncode_DefaultStateIsEmpty(t *testing.T) {
	assert.Empty(t, Encode(filter.Default()))
	assert.Equal(t, "", Query(filter.Default()))
	assert.Equal(t, "/search", URL("/search", filter.Default()))
}

func TestEncode_OmitsDefaultsAndJoinsAmenities(t *testing.T) {
	s := filter.Default()
	s.Location = "New Atuabo"
	s.PriceRange = filter.Range{Min: 500, Max: 10000}
	s.Beds = 2
	s.Amenities = filter.NormalizeAmenities([]filter.Amenity{filter.AmenityWiFi, filter.AmenityParking})

	v := Encode(s)

	assert.Equal(t, "New Atuabo", v.Get(ParamLocation))
	assert.Equal(t, "500,10000", v.Get(ParamPriceRange))
	assert.Equal(t, "2", v.Get(ParamBeds))
	assert.Equal(t, "Parking,WiFi", v.Get(ParamAmenities))
	assert.False(t, v.Has(ParamSquareFeet))
	assert.False(t, v.Has(ParamBaths))
	assert.False(t, v.Has(ParamLat))
	assert.False(t, v.Has(ParamAvailableFrom))
}

func TestURL_HeroSearchEmbedsLocationAndCoordinates(t *testing.T) {
	s, err := filter.Reduce(filter.Default(), filter.ResolveLocation{
		Location:    "UMaT Hostels",
		Coordinates: filter.Coordinates{Lat: 5.2983, Lng: -1.9556},
	})
	require.NoError(t, err)

	assert.Equal(t, "/search?lat=5.2983&lng=-1.9556&location=UMaT+Hostels", URL("/search", s))
}

func TestParse_RoundTripsEncodedState(t *testing.T) {
	s := filter.Default()
	s.Location = "Tamso"
	s.Coordinates = &filter.Coordinates{Lat: 5.29, Lng: -1.98}
	s.PropertyType = filter.PropertyTypeApartment
	s.SquareFeet = filter.Range{Min: 200, Max: 1200}
	s.Baths = 1
	s.AvailableFrom, _ = filter.ParseDate("2025-09-01")

	parsed, err := Parse(Query(s))

	require.NoError(t, err)
	assert.Equal(t, s.Key(), parsed.Key())
}

func TestDecode_IsLenient(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
		check   func(t *testing.T, s filter.State)
	}{
		{
			name:    "inverted price range falls back to default",
			query:   "priceRange=5000,100&beds=2",
			wantErr: true,
			check:   func(t *testing.T, s filter.State) {
				assert.Equal(t, filter.DefaultPriceRange(), s.PriceRange)
				assert.Equal(t, filter.MinCount(2), s.Beds)
			},
		},
		{
			name:    "lat without lng is dropped",
			query:   "location=Aboso&lat=5.3",
			wantErr: true,
			check:   func(t *testing.T, s filter.State) {
				assert.Equal(t, "Aboso", s.Location)
				assert.Nil(t, s.Coordinates)
			},
		},
		{
			name:    "unknown amenity dropped, known kept",
			query:   "amenities=WiFi,Helipad,WiFi",
			wantErr: true,
			check:   func(t *testing.T, s filter.State) {
				assert.Equal(t, []filter.Amenity{filter.AmenityWiFi}, s.Amenities)
			},
		},
		{
			name:    "bad beds and date",
			query:   "beds=zero&availableFrom=tomorrow",
			wantErr: true,
			check:   func(t *testing.T, s filter.State) {
				assert.Equal(t, filter.Any, s.Beds)
				assert.True(t, s.AvailableFrom.IsAny())
			},
		},
		{
			name:    "half-open range keeps the other bound",
			query:   "squareFeet=,800",
			check:   func(t *testing.T, s filter.State) {
				assert.Equal(t, filter.Range{Min: 0, Max: 800}, s.SquareFeet)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.query)
			require.NoError(t, s.Validate())
			assert.LessOrEqual(t, s.PriceRange.Min, s.PriceRange.Max)
			assert.LessOrEqual(t, s.SquareFeet.Min, s.SquareFeet.Max)
			tt.check(t, s)
			if tt.wantErr {
				assert.ErrorIs(t, err, filter.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDebouncer_CollapsesToLastCall(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var mu sync.Mutex
	var fired []int
	for i := 1; i <= 5; i++ {
		n := i
		d.Schedule(func() {
			mu.Lock()
			fired = append(fired, n)
			mu.Unlock()
		})
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{5}, fired)
}

func TestDebouncer_FlushAndStop(t *testing.T) {
	d := NewDebouncer(time.Hour)

	var calls int32
	d.Schedule(func() { atomic.AddInt32(&calls, 1) })
	assert.True(t, d.Pending())

	d.Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, d.Pending())

	d.Schedule(func() { atomic.AddInt32(&calls, 1) })
	d.Stop()
	assert.False(t, d.Pending())
	assert.False(t, d.Schedule(func() { atomic.AddInt32(&calls, 1) }))

	d.Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type recordingNavigator struct {
	mu   sync.Mutex
	urls []string
}

func (n *recordingNavigator) Replace(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
}

func (n *recordingNavigator) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

func TestSyncer_WritesLastCommittedState(t *testing.T) {
	nav := &recordingNavigator{}
	syncer := NewSyncer("/search", 50*time.Millisecond, nav, logger.New("test"))

	store, err := filter.NewStore(filter.Default())
	require.NoError(t, err)
	store.Subscribe(syncer.OnCommit)

	for _, beds := range []filter.MinCount{1, 2, 3} {
		_, err := store.Dispatch(filter.SetBeds{Beds: beds})
		require.NoError(t, err)
		store.Apply()
	}

	assert.Eventually(t, func() bool { return len(nav.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"/search?beds=3"}, nav.snapshot())

	store.Reset()
	syncer.Flush()
	assert.Equal(t, []string{"/search?beds=3", "/search"}, nav.snapshot())
}
