// Package device owns the USB HID connection to the seven-segment display.
// The handle is acquired lazily on the first write or after any failure and
// is the only shared hardware resource in the process.
package device

import (
	"time"

	"codeberg.org/mutker/tempdisplayctl/internal/errors"
	"codeberg.org/mutker/tempdisplayctl/internal/frame"
	"codeberg.org/mutker/tempdisplayctl/internal/logger"
	"github.com/google/gousb"
)

// HID class SET_REPORT request, directed at interface 0.
const (
	setReportRequestType = 0x21
	setReportRequest     = 0x09
	outputReportValue    = 0x0200
	interfaceIndex       = 0x00
)

type Config struct {
	VendorID     uint16
	ProductID    uint16
	WriteTimeout time.Duration
}

// Channel writes output reports to the display identified by the configured
// vendor/product pair. Not safe for concurrent use; the poll loop is the
// single caller.
type Channel struct {
	cfg        Config
	usb        *gousb.Context
	dev        *gousb.Device
	usbCfg     *gousb.Config
	intf       *gousb.Interface
	errFactory errors.Factory
}

func New(cfg Config) *Channel {
	usb := gousb.NewContext()
	usb.Debug(0)

	return &Channel{
		cfg:        cfg,
		usb:        usb,
		errFactory: errors.New(),
	}
}

// Probe enumerates and opens the display once, without writing. Used at
// startup when the configuration demands the device be present.
func (c *Channel) Probe() error {
	if c.dev != nil {
		return nil
	}

	return c.open()
}

// Write sends one frame as a SET_REPORT control transfer. The operation is
// all-or-nothing: a failed or short transfer releases the handle and surfaces
// device_unavailable, so the next cycle re-enumerates.
func (c *Channel) Write(f frame.Frame) error {
	if c.dev == nil {
		if err := c.open(); err != nil {
			return err
		}
	}

	// Report ID 0: the ID byte stays off the wire
	payload := f.Payload()
	wValue := uint16(outputReportValue) | uint16(f[0])

	n, err := c.dev.Control(setReportRequestType, setReportRequest, wValue, interfaceIndex, payload)
	if err != nil {
		c.release()
		return c.errFactory.Wrap(errors.ErrDeviceUnavailable, err)
	}
	if n != len(payload) {
		c.release()
		return c.errFactory.WithData(errors.ErrDeviceUnavailable, n)
	}

	return nil
}

// Close releases the device handle and the USB context. Safe to call on any
// exit path, open handle or not.
func (c *Channel) Close() error {
	c.release()

	if err := c.usb.Close(); err != nil {
		return c.errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (c *Channel) open() error {
	vid := gousb.ID(c.cfg.VendorID)
	pid := gousb.ID(c.cfg.ProductID)

	devs, err := c.usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vid && desc.Product == pid
	})
	// OpenDevices can return opened devices alongside an error; keep what
	// matched and only fail when nothing did
	if len(devs) == 0 {
		if err != nil {
			return c.errFactory.Wrap(errors.ErrDeviceNotFound, err)
		}
		return c.errFactory.New(errors.ErrDeviceNotFound)
	}

	for _, extra := range devs[1:] {
		extra.Close()
	}

	dev := devs[0]
	dev.ControlTimeout = c.cfg.WriteTimeout

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return c.errFactory.Wrap(errors.ErrDeviceUnavailable, err)
	}

	usbCfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		return c.errFactory.Wrap(errors.ErrDeviceUnavailable, err)
	}

	// Claiming the HID interface detaches the kernel driver so the
	// control transfers below reach the panel
	intf, err := usbCfg.Interface(0, 0)
	if err != nil {
		usbCfg.Close()
		dev.Close()
		return c.errFactory.Wrap(errors.ErrDeviceUnavailable, err)
	}

	c.dev = dev
	c.usbCfg = usbCfg
	c.intf = intf

	logger.Info().
		Str("vendor_id", vid.String()).
		Str("product_id", pid.String()).
		Msg("Display connected")

	return nil
}

func (c *Channel) release() {
	if c.intf != nil {
		c.intf.Close()
		c.intf = nil
	}
	if c.usbCfg != nil {
		if err := c.usbCfg.Close(); err != nil {
			logger.Debug().AnErr("error", err).Msg("Failed to release configuration")
		}
		c.usbCfg = nil
	}
	if c.dev != nil {
		if err := c.dev.Close(); err != nil {
			logger.Debug().AnErr("error", err).Msg("Failed to release device handle")
		}
		c.dev = nil
		logger.Info().Msg("Display handle released")
	}
}
