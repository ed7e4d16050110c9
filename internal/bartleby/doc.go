// Package bartleby implements the realtime input-to-MPE translation core
// for the Bartleby 25-key pressure-sensitive MIDI controller:
//
//	Sampler -> KeyEngine/PotEngine/EncoderEngine -> MpeAllocator -> MidiEncoder -> TransportMux -> UART
//
// Every engine here is run-to-completion per scheduler tick: there are no
// suspension points inside the core, and the only shared mutable state
// (the MpeZone channel table) is touched exclusively by MpeAllocator, whose
// Allocate and Release are called only from KeyEngine on the scheduler's
// single thread.
// Hardware (ADC multiplexers, the rotary encoder, the UART) is reached
// through small interfaces supplied by the caller — see cmd/bartleby for
// the Linux wiring — so nothing in this package owns a global singleton.
//
// MainLoop (loop.go) owns the scheduler: it ticks the sampler and every
// engine in order, drains the transport, and dispatches inbound ASCII. The
// gpio.go, serialport.go, devicewatch.go, and adc.go files are the Linux
// collaborators MainLoop is driven with in production — a quadrature
// encoder and presence pin on GPIO lines, a raw-mode serial UART, hot-plug
// detection on the serial device node, and an SPI ADC behind the mux
// selector. GPIOEncoder, SerialUART and ADCMuxSelector implement the
// EncoderSource, UART and MuxSelector interfaces the core declares;
// PresencePin and DeviceWatcher are used by cmd/bartleby directly. The core
// engines never reference any of these types.
package bartleby
