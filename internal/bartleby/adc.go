package bartleby

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"
)

// ADCMuxSelector implements MuxSelector over a SPI ADC (e.g. an MCP3008)
// whose analog input is fanned out through one or more 8-way analog
// multiplexer ICs. A Descriptor's MuxID picks which SPI ADC channel reads
// a given mux IC's common output pin; its Channel (0-7) is driven onto
// that mux's three binary select lines before the SPI transaction runs,
// honoring the settling delay Sampler.read already applies between Select
// and Read.
type ADCMuxSelector struct {
	spiFD int

	selectLines [3]*gpiocdev.Line

	// adcChannelForMux maps a MuxID to the SPI ADC's own input channel
	// (0-7) that this mux IC's common pin is wired to.
	adcChannelForMux map[int]int

	logger *log.Logger
}

// NewADCMuxSelector opens spiDevice (e.g. "/dev/spidev0.0") and requests
// the three GPIO lines used as the analog mux's binary select inputs.
func NewADCMuxSelector(spiDevice, gpioChip string, selectPins [3]int, adcChannelForMux map[int]int, logger *log.Logger) (*ADCMuxSelector, error) {
	fd, err := unix.Open(spiDevice, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", spiDevice, err)
	}

	var s = &ADCMuxSelector{spiFD: fd, adcChannelForMux: adcChannelForMux, logger: logger}

	for i, pin := range selectPins {
		line, err := gpiocdev.RequestLine(gpioChip, pin, gpiocdev.AsOutput(0))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("requesting mux select line %d: %w", i, err)
		}
		s.selectLines[i] = line
	}

	return s, nil
}

// Select drives the analog mux's three binary select lines to channel
// (0-7). muxID is unused here beyond validating the descriptor is wired to
// a known ADC channel; every Descriptor sharing a physical mux IC drives
// the same three select lines.
func (s *ADCMuxSelector) Select(muxID, channel int) error {
	if _, ok := s.adcChannelForMux[muxID]; !ok {
		return fmt.Errorf("unknown mux id %d", muxID)
	}
	for bit, line := range s.selectLines {
		if err := line.SetValue((channel >> bit) & 1); err != nil {
			return fmt.Errorf("setting mux select line %d: %w", bit, err)
		}
	}
	return nil
}

// Read performs one SPI transaction against the ADC channel wired to
// muxID's common pin and returns its 10-bit conversion result scaled into
// the 12-bit range Tuning's thresholds are calibrated against.
func (s *ADCMuxSelector) Read(muxID int) (uint16, error) {
	adcChannel, ok := s.adcChannelForMux[muxID]
	if !ok {
		return 0, fmt.Errorf("unknown mux id %d", muxID)
	}

	var raw, err = mcp3008Transfer(s.spiFD, adcChannel)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("spi transfer failed", "mux", muxID, "err", err)
		}
		return 0, err
	}

	return raw << 2, nil // 10-bit ADC reading scaled to the 12-bit calibration range
}

// Close releases the SPI file descriptor and the mux select GPIO lines.
func (s *ADCMuxSelector) Close() error {
	for _, line := range s.selectLines {
		if line != nil {
			line.Close()
		}
	}
	return unix.Close(s.spiFD)
}

// spiIOCTransfer mirrors the kernel's struct spi_ioc_transfer (one entry,
// 64-bit build): two pointer-sized buffer fields, then length/speed/delay/
// word-size/cs-change/pad, laid out to match linux/spi/spidev.h exactly
// since this is handed straight to the ioctl as raw bytes.
type spiIOCTransfer struct {
	txBuf uint64
	rxBuf uint64

	length   uint32
	speedHz  uint32
	delay    uint16
	bits     uint8
	csChange uint8
	pad      uint32
}

// spiIOCMessage1 is SPI_IOC_MESSAGE(1) from linux/spi/spidev.h: a
// direction-encoded ioctl request for one struct spi_ioc_transfer.
const spiIOCMessage1 = (1 << 30) | (uint(unsafe.Sizeof(spiIOCTransfer{})) << 16) | ('k' << 8)

// mcp3008Transfer runs the three-byte single-ended conversion sequence an
// MCP3008-family ADC expects and decodes its 10-bit result.
func mcp3008Transfer(fd int, channel int) (uint16, error) {
	var tx = [3]byte{0x01, byte(0x80 | (channel << 4)), 0x00}
	var rx [3]byte

	var xfer = spiIOCTransfer{
		txBuf:   uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:   uint64(uintptr(unsafe.Pointer(&rx[0]))),
		length:  uint32(len(tx)),
		speedHz: 1_000_000,
		bits:    8,
	}

	var _, _, errno = unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(spiIOCMessage1), uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return 0, os.NewSyscallError("ioctl(SPI_IOC_MESSAGE)", errno)
	}

	return uint16(rx[1]&0x03)<<8 | uint16(rx[2]), nil
}
