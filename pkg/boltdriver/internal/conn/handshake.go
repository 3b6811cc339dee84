package conn

import (
	"fmt"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// magicPreamble is the fixed 4-byte Bolt handshake preamble.
var magicPreamble = [4]byte{0x60, 0x60, 0xB0, 0x17}

// Version is a negotiated or proposed Bolt protocol version.
type Version struct {
	Major byte
	Minor byte
	// Range lets a single 4-byte proposal slot cover Minor down to
	// Minor-Range on the same Major, per spec.md §4.B's "pre-5.0 and
	// >=5.0 range encoding" note.
	Range byte
}

func (v Version) encode() [4]byte {
	return [4]byte{0x00, v.Range, v.Minor, v.Major}
}

// Encode exposes the wire encoding of v for test doubles that need to act
// as a fake server (internal/bolttest).
func (v Version) Encode() [4]byte { return v.encode() }

func decodeVersion(b [4]byte) Version {
	return Version{Major: b[3], Minor: b[2], Range: b[1]}
}

func (v Version) isZero() bool { return v.Major == 0 && v.Minor == 0 && v.Range == 0 }

// AtLeast reports whether v >= other, comparing major then minor.
func (v Version) AtLeast(major, minor byte) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// DefaultProposals is the driver's default four-slot version proposal,
// newest first, covering the Bolt 3.0-5.x range this driver supports.
var DefaultProposals = [4]Version{
	{Major: 5, Minor: 8, Range: 8},
	{Major: 5, Minor: 0},
	{Major: 4, Minor: 4, Range: 4},
	{Major: 3, Minor: 0},
}

// performHandshake writes the preamble and four version proposals, then
// reads the server's 4-byte response. A response of all zero bytes means
// the server rejected every proposal.
func performHandshake(t transport, proposals [4]Version) (Version, error) {
	buf := make([]byte, 4+4*4)
	copy(buf[0:4], magicPreamble[:])
	for i, p := range proposals {
		enc := p.encode()
		copy(buf[4+i*4:8+i*4], enc[:])
	}
	if _, err := t.Write(buf); err != nil {
		return Version{}, errs.Wrap(errs.NetworkError, err, "writing handshake")
	}

	var resp [4]byte
	if err := readFull(t, resp[:]); err != nil {
		return Version{}, errs.Wrap(errs.HandshakeFailed, err, "reading handshake response")
	}
	negotiated := decodeVersion(resp)
	if negotiated.isZero() {
		return Version{}, errs.New(errs.HandshakeFailed, "server rejected all proposed Bolt versions")
	}
	return negotiated, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := r.Read(buf[n:])
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}
