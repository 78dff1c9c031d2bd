package qindex

import "encoding/binary"

// Bit-level record layouts (spec §4.1). All integers are big-endian; every
// record is byte-aligned on its total length. Two file formats — the
// journal and the segment files — share this codec but use different
// prefixes and, for segment files, a narrower per-record rel field instead
// of a full sequence id.

// JournalKind is the 2-bit prefix that selects a journal entry's shape.
type JournalKind uint8

const (
	JournalPublishPersistent JournalKind = 0b00
	JournalPublishTransient  JournalKind = 0b01
	JournalDeliver           JournalKind = 0b10
	JournalAck               JournalKind = 0b11
)

const (
	seq62Mask = (uint64(1) << 62) - 1

	// journalPubFixedSize is everything a publish entry carries besides its
	// embedded body: the 8-byte (prefix|seq) word, 16-byte msg-id, 8-byte
	// expiry, 4-byte size, 4-byte embedded-size.
	journalPubFixedSize = 8 + 16 + 8 + 4 + 4

	// PubRecordSizeBytes is PUB_RECORD_SIZE_BYTES from spec §4.1/§6: the
	// fixed portion of a publish record, used to size the zero-pad run
	// that marks a dirty-shutdown tail.
	PubRecordSizeBytes = journalPubFixedSize

	// journalZeroRunLen is "2 + PUB_RECORD_SIZE_BYTES" from §6: the
	// minimum run of zero bytes that marks end-of-valid-data in a journal.
	journalZeroRunLen = 2 + PubRecordSizeBytes
)

// JournalEntry is the decoded form of one journal record.
type JournalEntry struct {
	Kind JournalKind
	Seq  SeqId
	Pub  *PubRecord // non-nil only for the two publish kinds
}

// IsPublish reports whether this entry carries a PubRecord.
func (e JournalEntry) IsPublish() bool {
	return e.Kind == JournalPublishPersistent || e.Kind == JournalPublishTransient
}

// EncodeJournalEntry serializes a journal entry per §4.1.
func EncodeJournalEntry(e JournalEntry) []byte {
	word := (uint64(e.Kind) << 62) | (uint64(e.Seq) & seq62Mask)

	if !e.IsPublish() {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, word)
		return buf
	}

	p := e.Pub
	embLen := len(p.Embedded)
	buf := make([]byte, journalPubFixedSize+embLen)
	binary.BigEndian.PutUint64(buf[0:8], word)
	copy(buf[8:24], p.MsgID[:])
	binary.BigEndian.PutUint64(buf[24:32], p.Expiry)
	binary.BigEndian.PutUint32(buf[32:36], p.Size)
	binary.BigEndian.PutUint32(buf[36:40], uint32(embLen))
	copy(buf[40:], p.Embedded)
	return buf
}

// DecodeJournalEntry decodes one entry from the head of buf.
//
// Returns (entry, consumed, true, nil) on success. Returns
// (JournalEntry{}, 0, false, nil) when buf's head is a truncated record or
// a zero-pad run (§6): "a run of >= 2+PUB_RECORD_SIZE_BYTES zero bytes
// terminates reading". Both cases mean "stop here, keep everything read so
// far" — callers must not treat this as an error.
func DecodeJournalEntry(buf []byte) (JournalEntry, int, bool, error) {
	if len(buf) < 8 {
		return JournalEntry{}, 0, false, nil // partial header: truncated tail
	}

	word := binary.BigEndian.Uint64(buf[0:8])
	if isZeroRun(buf, journalZeroRunLen) {
		return JournalEntry{}, 0, false, nil
	}

	kind := JournalKind(word >> 62)
	seq := SeqId(word & seq62Mask)
	e := JournalEntry{Kind: kind, Seq: seq}

	if !e.IsPublish() {
		return e, 8, true, nil
	}

	if len(buf) < journalPubFixedSize {
		return JournalEntry{}, 0, false, nil
	}
	var pub PubRecord
	pub.IsPersistent = kind == JournalPublishPersistent
	copy(pub.MsgID[:], buf[8:24])
	pub.Expiry = binary.BigEndian.Uint64(buf[24:32])
	pub.Size = binary.BigEndian.Uint32(buf[32:36])
	embLen := binary.BigEndian.Uint32(buf[36:40])
	total := journalPubFixedSize + int(embLen)
	if len(buf) < total {
		return JournalEntry{}, 0, false, nil
	}
	if embLen > 0 {
		pub.Embedded = append([]byte(nil), buf[journalPubFixedSize:total]...)
	}
	e.Pub = &pub
	return e, total, true, nil
}

// isZeroRun reports whether the first n bytes of buf (or all of buf, if
// shorter than n) are zero. Used to recognize dirty-shutdown tail padding.
// A persistent publish's kind bits are 00, so a genuine record can start
// with zero bytes; only the length of the run tells padding apart, and a
// persistent publish of a small seq-id with an all-zero msg-id and expiry
// can still match it — see the open question in spec §9, preserved here
// as observed behavior rather than special-cased.
func isZeroRun(buf []byte, n int) bool {
	if n > len(buf) {
		n = len(buf)
	}
	for i := 0; i < n; i++ {
		if buf[i] != 0 {
			return false
		}
	}
	return n > 0
}

// --- segment record codec ---------------------------------------------

// segPrefixPublish and segPrefixDelAck are the two top bits of a segment
// record's leading 16-bit word: '1x' selects Publish (x = is_persistent),
// '01' selects Deliver-or-Ack. '00' is unused and, like the journal's
// zero-pad rule, marks end-of-valid-data for a dirty-shutdown tail.
const (
	segTopBitPublish = uint16(1) << 15
	segTopBitDelAck  = uint16(1) << 14
	segRelMask       = uint16(SegmentEntryCount - 1) // low 14 bits

	// segPubFixedSize is a Publish segment record's size before its body:
	// 2-byte prefix/rel word + 16-byte msg-id + 8-byte expiry + 4-byte
	// size + 4-byte embedded-size.
	segPubFixedSize = 2 + 16 + 8 + 4 + 4

	// segDelAckSize is the fixed 2-byte Deliver-or-Ack record.
	segDelAckSize = 2
)

// SegRecordKind distinguishes the two segment record shapes.
type SegRecordKind uint8

const (
	SegPublish    SegRecordKind = iota // "1" prefix
	SegDeliverAck                      // "01" prefix: Deliver the first time it's seen for a rel, Ack the second
)

// SegRecord is the decoded form of one segment-file record.
type SegRecord struct {
	Kind SegRecordKind
	Rel  uint32
	Pub  *PubRecord // only for SegPublish
}

// EncodeSegPublish serializes a Publish segment record for rel.
func EncodeSegPublish(rel uint32, p *PubRecord) []byte {
	word := segTopBitPublish | uint16(rel)&segRelMask
	if p.IsPersistent {
		word |= segTopBitDelAck // reuse bit 14 as is_persistent within Publish records
	}
	embLen := len(p.Embedded)
	buf := make([]byte, segPubFixedSize+embLen)
	binary.BigEndian.PutUint16(buf[0:2], word)
	copy(buf[2:18], p.MsgID[:])
	binary.BigEndian.PutUint64(buf[18:26], p.Expiry)
	binary.BigEndian.PutUint32(buf[26:30], p.Size)
	binary.BigEndian.PutUint32(buf[30:34], uint32(embLen))
	copy(buf[34:], p.Embedded)
	return buf
}

// EncodeSegDeliverOrAck serializes a Deliver-or-Ack segment record for rel.
// Writing it twice for the same rel is how the format represents "ack"
// (§4.1) — callers decide how many times to emit it.
func EncodeSegDeliverOrAck(rel uint32) []byte {
	buf := make([]byte, segDelAckSize)
	word := segTopBitDelAck | uint16(rel)&segRelMask
	binary.BigEndian.PutUint16(buf, word)
	return buf
}

// DecodeSegRecord decodes one record from the head of buf. The (rec, 0,
// false, nil) "stop here" return covers both a truncated tail and the
// all-zero end-of-valid-data marker; segment files otherwise terminate on
// plain EOF, which callers detect themselves.
func DecodeSegRecord(buf []byte) (SegRecord, int, bool, error) {
	if len(buf) < 2 {
		return SegRecord{}, 0, false, nil
	}
	word := binary.BigEndian.Uint16(buf[0:2])
	top1 := word&segTopBitPublish != 0
	top2 := word&segTopBitDelAck != 0
	rel := uint32(word & segRelMask)

	switch {
	case top1:
		if len(buf) < segPubFixedSize {
			return SegRecord{}, 0, false, nil
		}
		var pub PubRecord
		pub.IsPersistent = top2
		copy(pub.MsgID[:], buf[2:18])
		pub.Expiry = binary.BigEndian.Uint64(buf[18:26])
		pub.Size = binary.BigEndian.Uint32(buf[26:30])
		embLen := binary.BigEndian.Uint32(buf[30:34])
		total := segPubFixedSize + int(embLen)
		if len(buf) < total {
			return SegRecord{}, 0, false, nil
		}
		if embLen > 0 {
			pub.Embedded = append([]byte(nil), buf[segPubFixedSize:total]...)
		}
		return SegRecord{Kind: SegPublish, Rel: rel, Pub: &pub}, total, true, nil

	case top2:
		return SegRecord{Kind: SegDeliverAck, Rel: rel}, segDelAckSize, true, nil

	default:
		// all-zero prefix: dirty-shutdown tail padding.
		return SegRecord{}, 0, false, nil
	}
}
