package sim

import (
	"context"

	"greencart-sim/internal/broadcast"
	"greencart-sim/internal/logging"
	"greencart-sim/internal/telemetry"
)

// tick advances r by one step and reports whether the run is exhausted.
// Aggregates are updated under the run lock; sinks, broadcasts and store
// checkpoints happen after it is released.
func (c *Controller) tick(ctx context.Context, r *run) bool {
	log := logging.FromContext(ctx)
	p := r.settings.Params

	r.mu.Lock()
	r.tick++
	tick := r.tick
	if tick > r.maxTicks {
		r.mu.Unlock()
		return true
	}

	batch := make([]telemetry.TelemetryRow, 0, len(r.settings.DriverIDs))
	for _, driverID := range r.settings.DriverIDs {
		row := r.gen.Sample(r.id, driverID, r.settings.OrderIDs, p.SpeedVariance, p.TrafficFactor)
		r.acc.AddSample(row)
		batch = append(batch, row)
	}

	delivered, onTime := false, false
	if r.gen.Chance(c.cfg.DeliveryChance) {
		delivered = true
		onTime = r.gen.Chance(c.cfg.OnTimeChance)
		r.acc.AddDelivery(onTime)
	}

	var event *telemetry.EventRow
	if r.gen.Chance(c.cfg.EventChance) {
		if ev, ok := r.gen.Event(r.id, r.settings.DriverIDs, p.BreakdownProbability, p.RerouteProbability); ok {
			r.acc.AddEvent(ev.Type)
			event = &ev
		}
	}
	snap := r.acc.Snapshot()
	r.mu.Unlock()

	for _, row := range batch {
		c.hub.Publish(r.id, broadcast.Message{Event: broadcast.EventTelemetry, Data: row})
	}
	c.metrics.Telemetry(len(batch))
	if c.sink != nil {
		if err := writeRows(c.sink, batch); err != nil {
			c.metrics.SinkFailure("telemetry")
			log.Error("telemetry write failed", "tick", tick, "err", err)
		}
	}

	if delivered {
		c.metrics.Delivery(onTime)
	}

	if event != nil {
		c.metrics.Event(string(event.Type))
		c.hub.Publish(r.id, broadcast.Message{Event: broadcast.EventIncident, Data: *event})
		if ew, ok := c.sink.(EventWriter); ok {
			if err := ew.WriteEvent(*event); err != nil {
				c.metrics.SinkFailure("event")
				log.Error("event write failed", "tick", tick, "err", err)
			}
		}
		log.Info("operational event", "tick", tick, "type", event.Type, "driver_id", event.Payload.DriverID)
	}

	if tick%progressEvery == 0 {
		log.Info("simulation progress", "tick", tick, "max_ticks", r.maxTicks,
			"telemetry", snap.TelemetryCount, "events", snap.EventsCount, "deliveries", snap.Deliveries)
		if pw, ok := c.sink.(ProgressWriter); ok {
			row := telemetry.ProgressRow{
				RunID:          r.id,
				Tick:           tick,
				MaxTicks:       r.maxTicks,
				TelemetryCount: snap.TelemetryCount,
				EventsCount:    snap.EventsCount,
				Deliveries:     snap.Deliveries,
				Timestamp:      c.now().UTC(),
			}
			if err := pw.WriteProgress(row); err != nil {
				c.metrics.SinkFailure("progress")
				log.Error("progress write failed", "tick", tick, "err", err)
			}
		}
	}

	if every := c.cfg.CheckpointEvery; every > 0 && tick%every == 0 {
		if err := c.store.UpdateCounts(ctx, r.id, snap.TelemetryCount, snap.EventsCount); err != nil {
			c.metrics.PersistenceFailure("checkpoint")
			log.Warn("checkpoint counts failed", "tick", tick, "err", err)
		}
	}
	return false
}
