package maps

import (
	"context"
	"fmt"
	"sync"

	"googlemaps.github.io/maps"

	"speedyfood/internal/types"
)

// Geocoder is satisfied by *maps.Client.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GeocodeService turns coordinates into a street address for tracking updates.
type GeocodeService struct {
	client   Geocoder
	language string

	mu    sync.Mutex
	cache map[string]string
}

// NewGeocodeService creates a GeocodeService with the given API Key.
func NewGeocodeService(apiKey string) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return newGeocodeService(client), nil
}

func newGeocodeService(client Geocoder) *GeocodeService {
	return &GeocodeService{client: client, language: "es", cache: map[string]string{}}
}

// Address returns the formatted address nearest to p. Lookups are cached at
// roughly 10 m resolution, so a parked driver costs one request.
func (s *GeocodeService) Address(ctx context.Context, p types.Point) (string, error) {
	key := fmt.Sprintf("%.4f,%.4f", p.Lat, p.Lng)
	s.mu.Lock()
	addr, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return addr, nil
	}

	results, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
		Language: s.language,
	})
	if err != nil {
		return "", fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}

	addr = results[0].FormattedAddress
	s.mu.Lock()
	s.cache[key] = addr
	s.mu.Unlock()
	return addr, nil
}
