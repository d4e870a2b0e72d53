package sim

import "greencart-sim/internal/telemetry"

// Accumulator holds the running aggregates of one run. It is owned by the
// run and only mutated under the run mutex.
type Accumulator struct {
	TelemetryCount  int     `json:"telemetryCount"`
	EventsCount     int     `json:"eventsCount"`
	Deliveries      int     `json:"deliveries"`
	OnTime          int     `json:"onTime"`
	Late            int     `json:"late"`
	FuelTotal       float64 `json:"fuelTotal"`
	FuelDiesel      float64 `json:"fuelDiesel"`
	FuelPetrol      float64 `json:"fuelPetrol"`
	FuelElectric    float64 `json:"fuelElectric"`
	DistanceTotal   float64 `json:"distanceTotal"` // km
	DistanceSamples int     `json:"distanceSamples"`
	TimeTotal       float64 `json:"timeTotal"` // seconds
	TimeSamples     int     `json:"timeSamples"`
	Breakdowns      int     `json:"breakdowns"`
	Reroutes        int     `json:"reroutes"`
}

// AddSample folds one telemetry sample into the aggregates.
func (a *Accumulator) AddSample(row telemetry.TelemetryRow) {
	a.TelemetryCount++
	a.DistanceTotal += row.DistanceKm()
	a.DistanceSamples++
	a.TimeTotal++
	a.TimeSamples++

	a.FuelTotal += row.FuelCost
	switch row.FuelType {
	case telemetry.FuelDiesel:
		a.FuelDiesel += row.FuelCost
	case telemetry.FuelPetrol:
		a.FuelPetrol += row.FuelCost
	case telemetry.FuelElectric:
		a.FuelElectric += row.FuelCost
	}
}

func (a *Accumulator) AddDelivery(onTime bool) {
	a.Deliveries++
	if onTime {
		a.OnTime++
	} else {
		a.Late++
	}
}

func (a *Accumulator) AddEvent(t telemetry.EventType) {
	a.EventsCount++
	switch t {
	case telemetry.EventBreakdown:
		a.Breakdowns++
	case telemetry.EventReroute:
		a.Reroutes++
	}
}

// Snapshot returns a copy safe to hand outside the run lock.
func (a *Accumulator) Snapshot() Accumulator {
	return *a
}
