package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/fixjam/internal/apperror"
	"github.com/sakif/fixjam/internal/geo"
	"github.com/sakif/fixjam/internal/model"
	"github.com/sakif/fixjam/internal/repository"
	"golang.org/x/sync/singleflight"
)

// LocationService is the geocoding cache.
//
// CACHE-FIRST:
// A name already in the store never reaches the geocoder. Concurrent misses
// for the same name inside this process share one geocoder call; misses in
// different processes can still both insert, and duplicate names are
// tolerated (lookups take the first row).
//
// "No location" is a normal answer: a provider miss, a transport failure or a
// timeout all return nil, nil. Only store failures are errors.
type LocationService struct {
	repo     repository.LocationRepository
	geocoder geo.Geocoder
	logger   *slog.Logger
	inflight singleflight.Group
}

func NewLocationService(repo repository.LocationRepository, geocoder geo.Geocoder, logger *slog.Logger) *LocationService {
	return &LocationService{repo: repo, geocoder: geocoder, logger: logger}
}

// ByName returns the cached Location for name, geocoding it on a miss.
func (s *LocationService) ByName(ctx context.Context, name string) (*model.Location, error) {
	if name == "" {
		return nil, nil
	}

	loc, err := s.repo.FindLocationByName(ctx, name)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/location: finding %q: %w", name, err)
	}

	// The shared lookup serves every waiter, so one caller going away must
	// not cancel it for the rest.
	v, err, _ := s.inflight.Do(name, func() (any, error) {
		return s.geocodeAndStore(context.WithoutCancel(ctx), name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Location), nil
}

func (s *LocationService) geocodeAndStore(ctx context.Context, name string) (*model.Location, error) {
	// Another caller may have stored it while we waited to enter the group.
	if loc, err := s.repo.FindLocationByName(ctx, name); err == nil {
		return loc, nil
	}

	point, err := s.geocoder.Geocode(ctx, name)
	if errors.Is(err, geo.ErrNoResult) {
		s.logger.Debug("geocoder has no result", slog.String("name", name))
		return (*model.Location)(nil), nil
	}
	if err != nil {
		s.logger.Warn("geocoding failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return (*model.Location)(nil), nil
	}

	loc := &model.Location{Name: name, Lat: point.Lat, Long: point.Long}
	if err := s.repo.CreateLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("service/location: storing %q: %w", name, err)
	}
	s.logger.Info("location cached",
		slog.String("locationID", loc.ID),
		slog.String("name", name),
	)
	return loc, nil
}

// ByProviderPlace returns the Location linked to a Facebook place id, or
// resolves placeName and links the result to placeID.
//
// A Location already linked to a different place keeps its link; the
// caller still gets its coordinates.
func (s *LocationService) ByProviderPlace(ctx context.Context, placeID, placeName string) (*model.Location, error) {
	if placeID == "" {
		return s.ByName(ctx, placeName)
	}

	loc, err := s.repo.FindLocationByFacebookPlace(ctx, placeID)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/location: finding place %s: %w", placeID, err)
	}

	loc, err = s.ByName(ctx, placeName)
	if err != nil || loc == nil {
		return loc, err
	}
	if loc.FacebookPlaceID != nil {
		return loc, nil
	}

	linked, err := s.repo.AttachFacebookPlace(ctx, loc.ID, placeID)
	if err != nil {
		return nil, fmt.Errorf("service/location: linking place %s to %s: %w", placeID, loc.ID, err)
	}
	return linked, nil
}
