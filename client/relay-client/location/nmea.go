package location

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	"github.com/adrianmo/go-nmea"
)

const (
	knotsToKmh = 1.852
	// rough horizontal accuracy per unit of HDOP
	metersPerHDOP = 5.0
	maxLineLength = 1024
)

// nmeaDecoder folds GGA, RMC and GSV sentences into a running fix
type nmeaDecoder struct {
	logger  logging.Logger
	now     func() time.Time
	current models.LocationSnapshot
	inView  int64
}

func newNMEADecoder(logger logging.Logger) *nmeaDecoder {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &nmeaDecoder{logger: logger, now: time.Now}
}

// Feed parses one sentence. It returns a snapshot whenever a GGA sentence
// updated the position.
func (d *nmeaDecoder) Feed(line string) (models.LocationSnapshot, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '$' {
		return models.LocationSnapshot{}, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		d.logger.Debug("Skipping NMEA sentence", "sentence", line, "error", err)
		return models.LocationSnapshot{}, false
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		quality, _ := strconv.Atoi(s.FixQuality)
		d.current.Latitude = s.Latitude
		d.current.Longitude = s.Longitude
		d.current.Altitude = s.Altitude
		d.current.SatelliteCount = int(s.NumSatellites)
		d.current.FixQuality = quality
		d.current.AccuracyMeters = s.HDOP * metersPerHDOP
		d.current.CapturedAt = d.now().UTC()
		return d.current, true
	case nmea.RMC:
		if s.Validity == nmea.ValidRMC {
			d.current.SpeedKmh = s.Speed * knotsToKmh
			d.current.HeadingDeg = s.Course
		}
	case nmea.GSV:
		if s.NumberSVsInView != d.inView {
			d.inView = s.NumberSVsInView
			d.logger.Debug("Satellites in view", "count", d.inView)
		}
	}
	return models.LocationSnapshot{}, false
}

// nmeaReceiver reads sentences from a serial port
type nmeaReceiver struct {
	logger  logging.Logger
	name    string
	port    io.ReadCloser
	decoder *nmeaDecoder
}

func newNMEAReceiver(logger logging.Logger, name string, port io.ReadCloser) *nmeaReceiver {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &nmeaReceiver{
		logger:  logger,
		name:    name,
		port:    port,
		decoder: newNMEADecoder(logger),
	}
}

func (r *nmeaReceiver) Name() string {
	return "nmea:" + r.name
}

func (r *nmeaReceiver) Run(ctx context.Context, update func(models.LocationSnapshot)) error {
	var closeOnce sync.Once
	closePort := func() { closeOnce.Do(func() { r.port.Close() }) }
	defer closePort()

	// closing the port unblocks a pending Read
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closePort()
		case <-stop:
		}
	}()

	buf := make([]byte, 512)
	line := make([]byte, 0, 128)
	for {
		n, err := r.port.Read(buf)
		for _, b := range buf[:n] {
			switch {
			case b == '\n':
				if fix, ok := r.decoder.Feed(string(line)); ok {
					update(fix)
				}
				line = line[:0]
			case len(line) >= maxLineLength:
				line = line[:0]
			default:
				line = append(line, b)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
