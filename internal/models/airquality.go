package models

import (
	"encoding/json"
	"time"
)

// Location is a monitoring site retained after the recency cutoff.
// FirstUpdated and LastUpdated are served exactly as the upstream API returned them.
type Location struct {
	Name             string  `json:"name"`
	FirstUpdated     string  `json:"firstUpdated"`
	LastUpdated      string  `json:"lastUpdated"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	ModelName        string  `json:"modelName"`
	ManufacturerName string  `json:"manufacturerName"`
}

// Parameter is a measured quantity from the upstream catalog (pm25, no2, ...).
type Parameter struct {
	Name          string `json:"name"`
	DisplayName   string `json:"displayName"`
	Description   string `json:"description"`
	PreferredUnit string `json:"preferredUnit"`
}

// Measurement is one latest reading joined against local location and parameter ids.
// A nil id means the upstream name did not resolve.
type Measurement struct {
	Timestamp   time.Time
	ParameterID *int64
	LocationID  *int64
	Value       float64
}

// MarshalJSON encodes the measurement as an ordered tuple:
// [timestamp, parameterId, locationId, value].
func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]interface{}{
		m.Timestamp.UTC().Format(time.RFC3339),
		m.ParameterID,
		m.LocationID,
		m.Value,
	})
}

// UnmarshalJSON decodes the tuple form written by MarshalJSON.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var raw [4]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ts string
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return err
	}
	var out Measurement
	out.Timestamp = t
	if err := json.Unmarshal(raw[1], &out.ParameterID); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[2], &out.LocationID); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[3], &out.Value); err != nil {
		return err
	}
	*m = out
	return nil
}
