package gossip

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/braidnetworks/braid/src/crypto"
	"github.com/braidnetworks/braid/src/graph"
)

// Protocol markers. One byte each on the wire.
const (
	markerSyncRequest byte = 0x01
	markerSyncAccept  byte = 0x02
	markerSyncReject  byte = 0x03
	markerEventsDone  byte = 0x04
	markerSyncDone    byte = 0x05
	markerEventNext   byte = 0x06
)

const (
	// we need this high buffer size for compatibility with stream layers that
	// fragment aggressively
	bufSize = math.MaxUint16

	// maxTipCount bounds the tip-list length a peer may advertise.
	maxTipCount = 1 << 16

	// maxBlockSize bounds the length prefix of a serialized event block.
	maxBlockSize = 1 << 24
)

// ErrBadMarker is the protocol-fatal error for an unexpected marker byte.
type ErrBadMarker struct {
	Got  byte
	Want []byte
}

func (e ErrBadMarker) Error() string {
	return fmt.Sprintf("unexpected protocol marker 0x%02X, want one of %v", e.Got, e.Want)
}

// Stream wraps one duplex connection with the primitives of the gossip wire
// format: markers, 8-byte signed generations, length-prefixed lists of
// 48-byte hashes, bit-packed boolean arrays, and event blocks. All reads and
// writes are bounded by the socket timeout; a silent peer becomes an I/O
// failure.
type Stream struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration

	eventsRead    int
	eventsWritten int
}

// NewStream wraps conn. A zero timeout disables deadlines.
func NewStream(conn net.Conn, timeout time.Duration) *Stream {
	return &Stream{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, bufSize),
		w:       bufio.NewWriterSize(conn, bufSize),
		timeout: timeout,
	}
}

// EventsRead returns the number of events read so far.
func (s *Stream) EventsRead() int { return s.eventsRead }

// EventsWritten returns the number of events written so far.
func (s *Stream) EventsWritten() int { return s.eventsWritten }

// Flush pushes buffered writes to the connection.
func (s *Stream) Flush() error {
	s.extendDeadline()
	return s.w.Flush()
}

func (s *Stream) extendDeadline() {
	if s.timeout > 0 {
		s.conn.SetDeadline(time.Now().Add(s.timeout))
	}
}

/*******************************************************************************
Markers
*******************************************************************************/

// WriteMarker writes a single protocol marker byte.
func (s *Stream) WriteMarker(m byte) error {
	s.extendDeadline()
	return s.w.WriteByte(m)
}

// ReadMarker reads one byte and checks it against the accepted markers.
func (s *Stream) ReadMarker(accept ...byte) (byte, error) {
	s.extendDeadline()
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, err
	}
	for _, a := range accept {
		if b == a {
			return b, nil
		}
	}
	return 0, ErrBadMarker{Got: b, Want: accept}
}

/*******************************************************************************
Generations
*******************************************************************************/

// WriteBounds writes a generation boundary pair as two 8-byte signed values.
func (s *Stream) WriteBounds(b graph.Bounds) error {
	s.extendDeadline()
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(b.Min))
	binary.BigEndian.PutUint64(buf[8:16], uint64(b.Max))
	_, err := s.w.Write(buf)
	return err
}

// ReadBounds reads a generation boundary pair and checks its invariant.
func (s *Stream) ReadBounds() (graph.Bounds, error) {
	s.extendDeadline()
	buf := make([]byte, 16)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return graph.Bounds{}, err
	}

	b := graph.Bounds{
		Min: int64(binary.BigEndian.Uint64(buf[0:8])),
		Max: int64(binary.BigEndian.Uint64(buf[8:16])),
	}

	//Max == 0 is the empty-graph case; otherwise Min <= Max must hold
	if b.Min < 0 || (b.Max != 0 && b.Max < b.Min) {
		return graph.Bounds{}, fmt.Errorf("invalid generation bounds %s", b)
	}

	return b, nil
}

/*******************************************************************************
Hash lists
*******************************************************************************/

// WriteHashList writes a length-prefixed list of 48-byte hashes.
func (s *Stream) WriteHashList(hashes [][]byte) error {
	s.extendDeadline()

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(hashes)))
	if _, err := s.w.Write(buf); err != nil {
		return err
	}

	for _, h := range hashes {
		if len(h) != crypto.HashLength {
			return fmt.Errorf("hash length %d, want %d", len(h), crypto.HashLength)
		}
		if _, err := s.w.Write(h); err != nil {
			return err
		}
	}

	return nil
}

// ReadHashList reads a length-prefixed list of 48-byte hashes.
func (s *Stream) ReadHashList() ([][]byte, error) {
	s.extendDeadline()

	buf := make([]byte, 4)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}

	count := binary.BigEndian.Uint32(buf)
	if count > maxTipCount {
		return nil, fmt.Errorf("tip list too long: %d", count)
	}

	hashes := make([][]byte, count)
	for i := range hashes {
		h := make([]byte, crypto.HashLength)
		if _, err := io.ReadFull(s.r, h); err != nil {
			return nil, err
		}
		hashes[i] = h
	}

	return hashes, nil
}

/*******************************************************************************
Boolean arrays
*******************************************************************************/

// WriteBools writes a length-prefixed bit-packed boolean array.
func (s *Stream) WriteBools(bools []bool) error {
	s.extendDeadline()

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(bools)))
	if _, err := s.w.Write(buf); err != nil {
		return err
	}

	packed := make([]byte, (len(bools)+7)/8)
	for i, b := range bools {
		if b {
			packed[i/8] |= 1 << uint(i%8)
		}
	}

	_, err := s.w.Write(packed)
	return err
}

// ReadBools reads a length-prefixed bit-packed boolean array.
func (s *Stream) ReadBools() ([]bool, error) {
	s.extendDeadline()

	buf := make([]byte, 4)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}

	count := binary.BigEndian.Uint32(buf)
	if count > maxTipCount {
		return nil, fmt.Errorf("bool list too long: %d", count)
	}

	packed := make([]byte, (count+7)/8)
	if _, err := io.ReadFull(s.r, packed); err != nil {
		return nil, err
	}

	bools := make([]bool, count)
	for i := range bools {
		bools[i] = packed[i/8]&(1<<uint(i%8)) != 0
	}

	return bools, nil
}

/*******************************************************************************
Events
*******************************************************************************/

// WriteEvent writes one event as a pair of length-prefixed CBOR blocks:
// hashed fields first, unhashed fields second.
func (s *Stream) WriteEvent(ev *graph.Event) error {
	s.extendDeadline()

	wire := ev.ToWire()

	hashedBytes, err := wire.Hashed.Marshal()
	if err != nil {
		return err
	}
	unhashedBytes, err := wire.Unhashed.Marshal()
	if err != nil {
		return err
	}

	if err := s.writeBlock(hashedBytes); err != nil {
		return err
	}
	if err := s.writeBlock(unhashedBytes); err != nil {
		return err
	}

	s.eventsWritten++
	return nil
}

// ReadEvent reads one event's hashed and unhashed blocks.
func (s *Stream) ReadEvent() (*graph.WireEvent, error) {
	s.extendDeadline()

	hashedBytes, err := s.readBlock()
	if err != nil {
		return nil, err
	}
	unhashedBytes, err := s.readBlock()
	if err != nil {
		return nil, err
	}

	wire := new(graph.WireEvent)
	if err := wire.Hashed.Unmarshal(hashedBytes); err != nil {
		return nil, err
	}
	if err := wire.Unhashed.Unmarshal(unhashedBytes); err != nil {
		return nil, err
	}

	s.eventsRead++
	return wire, nil
}

func (s *Stream) writeBlock(block []byte) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(block)))
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	_, err := s.w.Write(block)
	return err
}

func (s *Stream) readBlock() ([]byte, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(buf)
	if size > maxBlockSize {
		return nil, fmt.Errorf("event block too large: %d", size)
	}

	block := make([]byte, size)
	if _, err := io.ReadFull(s.r, block); err != nil {
		return nil, err
	}
	return block, nil
}
