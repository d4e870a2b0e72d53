// Telemetry, event and progress rows produced by simulation ticks
package telemetry

import "time"

// FuelType is the propulsion of the vehicle that produced a sample.
type FuelType string

const (
	FuelDiesel   FuelType = "diesel"
	FuelPetrol   FuelType = "petrol"
	FuelElectric FuelType = "electric"
)

// EventType names an operational incident.
type EventType string

const (
	EventBreakdown EventType = "driverBreakdown"
	EventReroute   EventType = "reroute"
)

// TelemetryRow is one synthetic vehicle sample for a driver.
type TelemetryRow struct {
	RunID      string    `json:"runId"`    // TAG
	DriverID   string    `json:"driverId"` // TAG
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Speed      float64   `json:"speed"` // km/h
	Heading    int       `json:"heading"`
	BatteryPct int       `json:"batteryPct"`
	OrderID    string    `json:"orderId"`
	FuelType   FuelType  `json:"fuelType,omitempty"`
	FuelCost   float64   `json:"fuelCost,omitempty"`
}

// DistanceKm is the distance covered by the sample, one minute at Speed.
func (r TelemetryRow) DistanceKm() float64 {
	return r.Speed / 60
}

// EventPayload carries the affected driver and a human readable message.
type EventPayload struct {
	DriverID string `json:"driverId"`
	Message  string `json:"message"`
}

// EventRow is one operational incident raised during a run.
type EventRow struct {
	RunID     string       `json:"runId"`
	Type      EventType    `json:"type"`
	Payload   EventPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

// ProgressRow captures the aggregate state of a run at a progress tick.
type ProgressRow struct {
	RunID          string    `json:"runId"`
	Tick           int       `json:"tick"`
	MaxTicks       int       `json:"maxTicks"`
	TelemetryCount int       `json:"telemetryCount"`
	EventsCount    int       `json:"eventsCount"`
	Deliveries     int       `json:"deliveries"`
	Timestamp      time.Time `json:"timestamp"`
}
