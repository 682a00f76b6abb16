package connectivity

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/logging"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/common"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

// InterfaceCommands configures how one interface type is brought up
type InterfaceCommands struct {
	Connect      string
	Disconnect   string
	NamePrefixes []string
}

// CommandDriver runs configured shell commands (nmcli by default) to
// bring interfaces up and down
type CommandDriver struct {
	logger         logging.Logger
	interfaces     map[models.InterfaceType]InterfaceCommands
	listInterfaces func() ([]net.Interface, error)
	wirelessPath   string
	run            func(ctx context.Context, command string) ([]byte, error)
}

func NewCommandDriver(logger logging.Logger, interfaces map[models.InterfaceType]InterfaceCommands) *CommandDriver {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &CommandDriver{
		logger:         logger,
		interfaces:     interfaces,
		listInterfaces: net.Interfaces,
		wirelessPath:   "/proc/net/wireless",
		run: func(ctx context.Context, command string) ([]byte, error) {
			return exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
		},
	}
}

// Available checks that a network device with a configured name prefix exists.
// Interfaces without prefixes are assumed present.
func (d *CommandDriver) Available(it models.InterfaceType) bool {
	cfg, ok := d.interfaces[it]
	if !ok {
		return false
	}
	if len(cfg.NamePrefixes) == 0 {
		return true
	}

	ifaces, err := d.listInterfaces()
	if err != nil {
		d.logger.Warn("Failed to list network interfaces", "error", err)
		return false
	}
	for _, iface := range ifaces {
		for _, prefix := range cfg.NamePrefixes {
			if strings.HasPrefix(iface.Name, prefix) {
				return true
			}
		}
	}
	return false
}

func (d *CommandDriver) Connect(ctx context.Context, it models.InterfaceType) error {
	cfg, ok := d.interfaces[it]
	if !ok {
		return fmt.Errorf("no configuration for interface %s", it)
	}
	return d.runCommand(ctx, "connect "+string(it), cfg.Connect)
}

func (d *CommandDriver) Disconnect(ctx context.Context, it models.InterfaceType) error {
	cfg, ok := d.interfaces[it]
	if !ok {
		return nil
	}
	return d.runCommand(ctx, "disconnect "+string(it), cfg.Disconnect)
}

func (d *CommandDriver) runCommand(ctx context.Context, op, command string) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	d.logger.Debug("Running interface command", "op", op, "command", command)
	output, err := d.run(ctx, command)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return common.NewTransientNetworkError(op, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output))))
	}
	return nil
}

// SignalQuality reads the WiFi level from /proc/net/wireless. Other
// interface types do not report one.
func (d *CommandDriver) SignalQuality(it models.InterfaceType) (int, bool) {
	if it != models.InterfaceWiFi {
		return 0, false
	}
	cfg := d.interfaces[it]

	f, err := os.Open(d.wirelessPath)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	return parseWirelessLevel(bufio.NewScanner(f), cfg.NamePrefixes)
}

// parseWirelessLevel extracts the signal level (dBm) of the first matching
// device. Format:
//
//	Inter-| sta-|   Quality        |   Discarded packets
//	 face | tus | link level noise |  nwid  crypt ...
//	 wlan0: 0000   70.  -40.  -256        0      0 ...
func parseWirelessLevel(scanner *bufio.Scanner, prefixes []string) (int, bool) {
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue
		}
		name, rest, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if len(prefixes) > 0 && !hasAnyPrefix(name, prefixes) {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			continue
		}
		return int(level), true
	}
	return 0, false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// StaticDriver is used in test mode: every interface connects instantly
type StaticDriver struct {
	logger logging.Logger
}

func NewStaticDriver(logger logging.Logger) *StaticDriver {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &StaticDriver{logger: logger}
}

func (d *StaticDriver) Available(it models.InterfaceType) bool {
	return it != models.InterfaceNone
}

func (d *StaticDriver) Connect(_ context.Context, it models.InterfaceType) error {
	d.logger.Info("[MOCK] Interface connected", "interface", it)
	return nil
}

func (d *StaticDriver) Disconnect(_ context.Context, it models.InterfaceType) error {
	d.logger.Info("[MOCK] Interface disconnected", "interface", it)
	return nil
}

func (d *StaticDriver) SignalQuality(it models.InterfaceType) (int, bool) {
	switch it {
	case models.InterfaceCellular:
		return -65, true
	case models.InterfaceWiFi:
		return -50, true
	}
	return 0, false
}
