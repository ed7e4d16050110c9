// Package diag formats the one timestamp-shaped string Bartleby's wire
// protocol emits outside of MIDI: the re-announcement frame the MainLoop
// sends when the comm timeout elapses with no inbound ASCII activity.
package diag

import (
	"time"

	"github.com/lestrrat-go/strftime"
)

// buildStampLayout renders a compact, sortable date stamp.
const buildStampLayout = "%Y-%m-%d"

var buildStampFormatter = mustNewStrftime(buildStampLayout)

func mustNewStrftime(layout string) *strftime.Strftime {
	f, err := strftime.New(layout)
	if err != nil {
		panic(err)
	}
	return f
}

// ReAnnouncement formats the frame MainLoop re-sends after comm_timeout: the
// protocol version string followed by a build-date stamp so a host that
// missed the original boot announcement (or reconnected mid-session) can
// still tell which firmware build it's talking to. cmd/bartleby passes the
// VCS commit time recorded in the binary's build info as buildTime.
func ReAnnouncement(version string, buildTime time.Time) string {
	return version + " " + buildStampFormatter.FormatString(buildTime)
}
