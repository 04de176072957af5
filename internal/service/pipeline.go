package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kjstillabower/air-quality-service/internal/client"
	"github.com/kjstillabower/air-quality-service/internal/models"
)

// UpstreamTimeLayout parses OpenAQ datetimes such as 2026-10-19T08:00:00+00:00.
const UpstreamTimeLayout = time.RFC3339

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FilteredLocations keeps the retained locations together with their ids in upstream order.
// The order drives the /latest location filter and last-wins name resolution.
type FilteredLocations struct {
	ByID map[int64]models.Location
	IDs  []int64
}

// FilterLocations keeps locations whose lastUpdated is at or after cutoff. Model and
// manufacturer come from the first manufacturer entry. A retained location with an
// unparseable lastUpdated or missing coordinates fails the whole payload.
func FilterLocations(raw []models.RawLocation, cutoff time.Time) (FilteredLocations, error) {
	out := FilteredLocations{ByID: make(map[int64]models.Location, len(raw))}
	for _, r := range raw {
		lastUpdated, err := time.Parse(UpstreamTimeLayout, r.LastUpdated)
		if err != nil {
			return FilteredLocations{}, fmt.Errorf("%w: location %d lastUpdated %q", client.ErrMalformedPayload, r.ID, r.LastUpdated)
		}
		if lastUpdated.Before(cutoff) {
			continue
		}
		if r.Coordinates == nil || r.Coordinates.Latitude == nil || r.Coordinates.Longitude == nil {
			return FilteredLocations{}, fmt.Errorf("%w: location %d missing coordinates", client.ErrMalformedPayload, r.ID)
		}

		loc := models.Location{
			Name:         r.Name,
			FirstUpdated: r.FirstUpdated,
			LastUpdated:  r.LastUpdated,
			Latitude:     *r.Coordinates.Latitude,
			Longitude:    *r.Coordinates.Longitude,
		}
		if len(r.Manufacturers) > 0 {
			loc.ModelName = r.Manufacturers[0].ModelName
			loc.ManufacturerName = r.Manufacturers[0].ManufacturerName
		}

		if _, seen := out.ByID[r.ID]; !seen {
			out.IDs = append(out.IDs, r.ID)
		}
		out.ByID[r.ID] = loc
	}
	return out, nil
}

// ParametersByID keys the upstream catalog by id. Duplicate ids keep the last entry.
func ParametersByID(raw []models.RawParameter) map[int64]models.Parameter {
	out := make(map[int64]models.Parameter, len(raw))
	for _, r := range raw {
		out[r.ID] = models.Parameter{
			Name:          r.Name,
			DisplayName:   r.DisplayName,
			Description:   r.Description,
			PreferredUnit: r.PreferredUnit,
		}
	}
	return out
}

// LocationIndex maps location name to id. When two locations share a name the later one wins.
func LocationIndex(locs FilteredLocations) map[string]int64 {
	idx := make(map[string]int64, len(locs.IDs))
	for _, id := range locs.IDs {
		idx[locs.ByID[id].Name] = id
	}
	return idx
}

// ParameterIndex maps parameter name to id over the full catalog, last wins.
func ParameterIndex(raw []models.RawParameter) map[string]int64 {
	idx := make(map[string]int64, len(raw))
	for _, r := range raw {
		idx[r.Name] = r.ID
	}
	return idx
}

// JoinResult is the flattened measurement list plus what failed to resolve.
type JoinResult struct {
	Measurements []models.Measurement
	// Unresolved counts measurements with a nil location or parameter id.
	Unresolved        int
	UnknownLocations  []string
	UnknownParameters []string
}

// JoinMeasurements flattens /latest results into measurement tuples, resolving names via
// the lookup tables. A name that does not resolve yields a nil id; the measurement is kept.
func JoinMeasurements(results []models.RawLatest, locationIdx, parameterIdx map[string]int64) (JoinResult, error) {
	out := JoinResult{Measurements: []models.Measurement{}}
	unknownLoc := map[string]bool{}
	unknownParam := map[string]bool{}

	for _, result := range results {
		if lookup(locationIdx, result.Location) == nil && !unknownLoc[result.Location] {
			unknownLoc[result.Location] = true
			out.UnknownLocations = append(out.UnknownLocations, result.Location)
		}
		for _, m := range result.Measurements {
			ts, err := time.Parse(UpstreamTimeLayout, m.LastUpdated)
			if err != nil {
				return JoinResult{}, fmt.Errorf("%w: measurement %s at %q lastUpdated %q", client.ErrMalformedPayload, m.Parameter, result.Location, m.LastUpdated)
			}
			locationID := lookup(locationIdx, result.Location)
			parameterID := lookup(parameterIdx, m.Parameter)
			if parameterID == nil && !unknownParam[m.Parameter] {
				unknownParam[m.Parameter] = true
				out.UnknownParameters = append(out.UnknownParameters, m.Parameter)
			}
			if locationID == nil || parameterID == nil {
				out.Unresolved++
			}
			out.Measurements = append(out.Measurements, models.Measurement{
				Timestamp:   ts,
				ParameterID: parameterID,
				LocationID:  locationID,
				Value:       m.Value,
			})
		}
	}
	return out, nil
}

// lookup returns a fresh pointer per call so measurements never share id storage.
func lookup(idx map[string]int64, name string) *int64 {
	id, ok := idx[name]
	if !ok {
		return nil
	}
	return &id
}

// PrepareLocations re-keys the location map by decimal id.
func PrepareLocations(locs map[int64]models.Location) map[string]models.Location {
	out := make(map[string]models.Location, len(locs))
	for id, loc := range locs {
		out[strconv.FormatInt(id, 10)] = loc
	}
	return out
}

// PrepareParameters keeps only parameters referenced by at least one measurement and
// re-keys them by decimal id.
func PrepareParameters(params map[int64]models.Parameter, measurements []models.Measurement) map[string]models.Parameter {
	out := make(map[string]models.Parameter)
	for _, m := range measurements {
		if m.ParameterID == nil {
			continue
		}
		p, ok := params[*m.ParameterID]
		if !ok {
			continue
		}
		out[strconv.FormatInt(*m.ParameterID, 10)] = p
	}
	return out
}
