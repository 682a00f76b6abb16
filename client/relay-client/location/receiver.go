package location

import (
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	"go.bug.st/serial"
)

type ReceiverOptions struct {
	Device         string
	BaudRate       int
	FallbackToMock bool
	ForceSynthetic bool
	MockLatitude   float64
	MockLongitude  float64
	MockInterval   time.Duration
	Seed           int64
}

// OpenReceiver selects the receiver once: the serial NMEA receiver when the
// device opens, otherwise the synthetic one if fallback is allowed.
// Without fallback a missing device is returned as HardwareUnavailable.
func OpenReceiver(logger logging.Logger, opts ReceiverOptions) (Receiver, error) {
	if logger == nil {
		logger = logging.NopLogger
	}

	synthetic := func() Receiver {
		return newSyntheticReceiver(logger, opts.MockLatitude, opts.MockLongitude, opts.MockInterval, opts.Seed)
	}

	if opts.ForceSynthetic {
		return synthetic(), nil
	}

	baud := opts.BaudRate
	if baud <= 0 {
		baud = 9600
	}
	port, err := serial.Open(opts.Device, &serial.Mode{BaudRate: baud})
	if err != nil {
		hwErr := common.NewHardwareUnavailableError("gps "+opts.Device, err)
		if !opts.FallbackToMock {
			return nil, hwErr
		}
		logger.Warn("GPS receiver unavailable, using synthetic fixes", "device", opts.Device, "error", err)
		return synthetic(), nil
	}

	logger.Info("GPS serial port opened", "device", opts.Device, "baud", baud)
	return newNMEAReceiver(logger, opts.Device, port), nil
}
