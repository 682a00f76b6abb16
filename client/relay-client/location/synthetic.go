package location

import (
	"context"
	"math/rand"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

const syntheticJitterDeg = 0.001

// syntheticReceiver simulates a receiver wandering around a base coordinate
type syntheticReceiver struct {
	logger   logging.Logger
	baseLat  float64
	baseLon  float64
	interval time.Duration
	rng      *rand.Rand
	now      func() time.Time
}

func newSyntheticReceiver(logger logging.Logger, baseLat, baseLon float64, interval time.Duration, seed int64) *syntheticReceiver {
	if logger == nil {
		logger = logging.NopLogger
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &syntheticReceiver{
		logger:   logger,
		baseLat:  baseLat,
		baseLon:  baseLon,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
	}
}

func (r *syntheticReceiver) Name() string {
	return "synthetic"
}

func (r *syntheticReceiver) next() models.LocationSnapshot {
	return models.LocationSnapshot{
		Latitude:       r.baseLat + (r.rng.Float64()*2-1)*syntheticJitterDeg,
		Longitude:      r.baseLon + (r.rng.Float64()*2-1)*syntheticJitterDeg,
		Altitude:       50 + (r.rng.Float64()*2-1)*5,
		AccuracyMeters: 3 + r.rng.Float64()*5,
		SatelliteCount: 4 + r.rng.Intn(9),
		FixQuality:     1,
		SpeedKmh:       r.rng.Float64() * 10,
		HeadingDeg:     r.rng.Float64() * 360,
		CapturedAt:     r.now().UTC(),
	}
}

func (r *syntheticReceiver) Run(ctx context.Context, update func(models.LocationSnapshot)) error {
	r.logger.Info("[MOCK] Synthetic GPS started", "lat", r.baseLat, "lon", r.baseLon, "interval", r.interval)

	update(r.next())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			update(r.next())
		}
	}
}
