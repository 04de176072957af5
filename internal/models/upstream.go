package models

// Raw upstream payload shapes (OpenAQ v2). Pointer fields distinguish a missing field
// from a zero value so the pipeline can reject malformed payloads.

type RawCoordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type RawManufacturer struct {
	ModelName        string `json:"modelName"`
	ManufacturerName string `json:"manufacturerName"`
}

type RawLocation struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	FirstUpdated  string            `json:"firstUpdated"`
	LastUpdated   string            `json:"lastUpdated"`
	Coordinates   *RawCoordinates   `json:"coordinates"`
	Manufacturers []RawManufacturer `json:"manufacturers"`
}

type RawParameter struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	DisplayName   string `json:"displayName"`
	Description   string `json:"description"`
	PreferredUnit string `json:"preferredUnit"`
}

type RawLatestMeasurement struct {
	Parameter   string  `json:"parameter"`
	Value       float64 `json:"value"`
	LastUpdated string  `json:"lastUpdated"`
	Unit        string  `json:"unit"`
}

// RawLatest is one /latest result; Location is the location's display name, not its id.
type RawLatest struct {
	Location     string                 `json:"location"`
	Measurements []RawLatestMeasurement `json:"measurements"`
}
