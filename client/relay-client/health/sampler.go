package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Raspberry Pi firmware throttling bits
const (
	throttleUnderVoltage     = 0x1
	throttleCurrentThrottled = 0x4
)

// Sampler reads the raw resource counters. Severity is filled in by the Monitor.
type Sampler interface {
	Sample(ctx context.Context) (models.HealthSnapshot, error)
}

// SystemSampler reads CPU, memory and disk through gopsutil and temperature
// and throttling state from sysfs
type SystemSampler struct {
	diskPath    string
	sysfsRoot   string
	cpuInterval time.Duration
	now         func() time.Time
}

// NewSystemSampler measures disk usage of the filesystem holding diskPath
func NewSystemSampler(diskPath, sysfsRoot string) *SystemSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	if sysfsRoot == "" {
		sysfsRoot = "/sys"
	}
	return &SystemSampler{
		diskPath:    diskPath,
		sysfsRoot:   sysfsRoot,
		cpuInterval: 500 * time.Millisecond,
		now:         time.Now,
	}
}

// Sample returns whatever could be read. The error lists the counters that failed.
func (s *SystemSampler) Sample(ctx context.Context) (models.HealthSnapshot, error) {
	snapshot := models.HealthSnapshot{SampledAt: s.now().UTC()}
	var errs []error

	if percents, err := cpu.PercentWithContext(ctx, s.cpuInterval, false); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else if len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		snapshot.MemoryPercent = vm.UsedPercent
	}

	if usage, err := disk.UsageWithContext(ctx, s.diskPath); err != nil {
		errs = append(errs, fmt.Errorf("disk: %w", err))
	} else {
		snapshot.DiskPercent = usage.UsedPercent
	}

	snapshot.TemperatureC = readTemperature(s.sysfsRoot)

	if flags, ok := readThrottled(s.sysfsRoot); ok {
		snapshot.Throttled = flags&throttleCurrentThrottled != 0
		snapshot.UnderVoltage = flags&throttleUnderVoltage != 0
	}

	return snapshot, errors.Join(errs...)
}

// readTemperature returns the hottest thermal zone in °C, 0 when none exist
func readTemperature(sysfsRoot string) float64 {
	zones, _ := filepath.Glob(filepath.Join(sysfsRoot, "class", "thermal", "thermal_zone*", "temp"))

	hottest := 0.0
	for _, zone := range zones {
		data, err := os.ReadFile(zone)
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if err != nil {
			continue
		}
		if c := milli / 1000; c > hottest {
			hottest = c
		}
	}
	return hottest
}

// readThrottled reads the firmware get_throttled bitmask (hex)
func readThrottled(sysfsRoot string) (uint64, bool) {
	path := filepath.Join(sysfsRoot, "devices", "platform", "soc", "soc:firmware", "get_throttled")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	value := strings.TrimSpace(string(data))
	value = strings.TrimPrefix(value, "throttled=")
	value = strings.TrimPrefix(value, "0x")
	flags, err := strconv.ParseUint(value, 16, 64)
	if err != nil {
		return 0, false
	}
	return flags, true
}
