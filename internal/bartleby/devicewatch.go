package bartleby

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
)

// DeviceWatcher notices a USB-serial adapter's device node appearing or
// disappearing. cmd/bartleby reads only Removed, and logs the loss; it does
// not reopen the UART. It reports through plain Go channels rather than
// exposing udev's netlink monitor directly, so nothing outside this file
// depends on go-udev's API.
type DeviceWatcher struct {
	Added   <-chan string
	Removed <-chan string

	cancel context.CancelFunc
}

// WatchSerialDevice starts watching the "tty" subsystem for the named
// device node (e.g. "/dev/ttyUSB0") appearing and disappearing.
func WatchSerialDevice(devicePath string, logger *log.Logger) (*DeviceWatcher, error) {
	var u udev.Udev
	var monitor = u.NewMonitorFromNetlink("udev")
	if err := monitor.FilterAddMatchSubsystem("tty"); err != nil {
		return nil, err
	}

	var ctx, cancel = context.WithCancel(context.Background())
	deviceEvents, err := monitor.DeviceChan(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	var added = make(chan string, 1)
	var removed = make(chan string, 1)

	go func() {
		for d := range deviceEvents {
			var node = d.Devnode()
			if node == "" || !strings.HasSuffix(devicePath, node) && !strings.HasSuffix(node, devicePath) {
				continue
			}

			switch d.Action() {
			case "add":
				if logger != nil {
					logger.Info("serial device appeared", "device", node)
				}
				select {
				case added <- node:
				default:
				}
			case "remove":
				if logger != nil {
					logger.Warn("serial device disappeared", "device", node)
				}
				select {
				case removed <- node:
				default:
				}
			}
		}
	}()

	return &DeviceWatcher{Added: added, Removed: removed, cancel: cancel}, nil
}

// Close stops the udev monitor goroutine.
func (w *DeviceWatcher) Close() {
	w.cancel()
}
