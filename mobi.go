// Package mobi is the top-level façade over the Mobipocket/MOBI container:
// it detects MOBI6-only, KF8-only and hybrid layouts, exposes flat metadata
// pulled from whichever EXTH block is user-visible, and assembles the full
// PalmDB record stream on write.
package mobi

import (
	"time"

	"github.com/htol/gomobi/resource"
)

// Unit is one MOBI6 or KF8 text unit: its record-0 header fields plus the
// two text containers §3 describes — the raw flow and the reconstructed
// HTML parts.
type Unit struct {
	Compression  uint16
	Encryption   uint16
	MobiType     uint32
	TextEncoding uint32
	Version      uint32

	// Flow holds flow[0] (raw ML) followed by any auxiliary streams
	// (CSS, SVG) delimited by FDST.
	Flow [][]byte

	// Parts holds the HTML parts reconstructed from Flow[0] via SKEL+FRAG
	// (KF8) or, absent any index, Flow[0] itself as the sole part.
	Parts [][]byte
}

// Mobi is a fully decoded (or to-be-written) MOBI container.
type Mobi struct {
	MOBI6 *Unit
	KF8   *Unit

	Resources []resource.Resource

	Title          string
	Author         string
	Publisher      string
	Description    string
	Subjects       []string
	PublishingDate time.Time
	Copyright      string
}

// New returns an empty Mobi with no units populated.
func New() *Mobi {
	return &Mobi{}
}
