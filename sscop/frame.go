package sscop

import (
	"encoding/binary"

	"github.com/soypat/saal"
	"github.com/soypat/saal/kbuf"
)

const (
	// alignment is the word size SD payloads are padded to.
	alignment     = 4
	sizeWord      = 4
	sizeTrailerSD = sizeWord
	sizePOLL      = 2 * sizeWord
	// STAT trailer is N(PS), N(MR) and type|N(R) words following the list.
	sizeTrailerSTAT = 3 * sizeWord
	sizeUSTAT       = 4 * sizeWord
	// sizeElement is the size of one selective acknowledgement list element.
	sizeElement = sizeWord
	padShift    = 4
)

// padLen returns the smallest pad such that n+pad is a multiple of alignment.
func padLen(n int) int {
	return -n & (alignment - 1)
}

// word packs an 8 bit head octet and a 24 bit sequence number.
func word(head byte, seq saal.Seq) uint32 {
	return uint32(head)<<24 | uint32(seq)&saal.SeqMask
}

func putWord(b []byte, head byte, seq saal.Seq) {
	binary.BigEndian.PutUint32(b, word(head, seq))
}

func splitWord(w uint32) (head byte, seq saal.Seq) {
	return byte(w >> 24), saal.Seq(w & saal.SeqMask)
}

// BuildSD frames payload as an SD PDU with sequence number seq:
//
//	| payload | pad (0..3) | pad<<4 | SD | N(S) (24 bits) |
//
// The payload is copied; the returned chain shares no memory with it.
func BuildSD(seq saal.Seq, payload kbuf.Chain) kbuf.Chain {
	plen := payload.Len()
	pad := padLen(plen)
	buf := make([]byte, plen+pad+sizeTrailerSD)
	payload.AppendTo(buf[:0])
	putWord(buf[plen+pad:], byte(pad<<padShift)|byte(saal.PDUSd), seq)
	return kbuf.New(buf)
}

// PDUType returns the type tag of a PDU, found in the first octet of its last word.
func PDUType(pdu kbuf.Chain) (saal.PDUType, error) {
	w, err := lastWord(pdu)
	if err != nil {
		return 0, err
	}
	head, _ := splitWord(w)
	return saal.PDUTypeFromTrailer(head), nil
}

func lastWord(pdu kbuf.Chain) (uint32, error) {
	if pdu.Len() < sizeWord || pdu.Len()%alignment != 0 {
		return 0, saal.ErrShortBuffer
	}
	tail, err := pdu.Tail(sizeWord)
	if err != nil {
		return 0, err
	}
	cur := tail.Cursor()
	return cur.Uint32()
}

// ParseSD validates an SD PDU and returns its sequence number and the payload
// with trailer and padding removed.
func ParseSD(pdu kbuf.Chain) (seq saal.Seq, sdu kbuf.Chain, err error) {
	w, err := lastWord(pdu)
	if err != nil {
		return 0, sdu, err
	}
	head, seq := splitWord(w)
	if saal.PDUTypeFromTrailer(head) != saal.PDUSd {
		return 0, sdu, saal.ErrBadPDU
	}
	pad := int(head >> padShift)
	if pad >= alignment || pad+sizeTrailerSD > pdu.Len() {
		return 0, sdu, saal.ErrBadPDU
	}
	sdu, err = pdu.TrimBack(pad + sizeTrailerSD)
	return seq, sdu, err
}

// BuildPOLL frames a POLL PDU carrying the poll sequence N(PS) and the current N(S).
func BuildPOLL(nps, ns saal.Seq) kbuf.Chain {
	buf := make([]byte, sizePOLL)
	putWord(buf[0:4], 0, nps)
	putWord(buf[4:8], byte(saal.PDUPoll), ns)
	return kbuf.New(buf)
}

// ParsePOLL returns the N(PS) and N(S) fields of a POLL PDU.
func ParsePOLL(pdu kbuf.Chain, v *saal.Validator) (nps, ns saal.Seq, err error) {
	if pdu.Len() != sizePOLL {
		return 0, 0, saal.ErrBadPDU
	}
	cur := pdu.Cursor()
	w0, _ := cur.Uint32()
	w1, _ := cur.Uint32()
	rsvd, nps := splitWord(w0)
	head, ns := splitWord(w1)
	if saal.PDUTypeFromTrailer(head) != saal.PDUPoll {
		return 0, 0, saal.ErrBadPDU
	}
	checkReserved(v, 0, rsvd)
	checkReserved(v, 32, head&^byte(0x0f))
	return nps, ns, validatorErr(v)
}

// Stat is the decoded content of a STAT PDU.
type Stat struct {
	NPS saal.Seq // N(PS) echoed from the POLL being answered.
	NMR saal.Seq // N(MR), upper edge of the peer's receive window.
	NR  saal.Seq // N(R), next sequence number expected by the peer.
	// List holds gap boundaries in wire order. Elements come in pairs [start, end)
	// of sequence numbers missing at the peer.
	List []saal.Seq
}

// BuildSTAT frames a STAT PDU.
func BuildSTAT(stat Stat) kbuf.Chain {
	buf := make([]byte, len(stat.List)*sizeElement+sizeTrailerSTAT)
	off := 0
	for _, e := range stat.List {
		putWord(buf[off:], 0, e)
		off += sizeElement
	}
	putWord(buf[off:], 0, stat.NPS)
	putWord(buf[off+4:], 0, stat.NMR)
	putWord(buf[off+8:], byte(saal.PDUStat), stat.NR)
	return kbuf.New(buf)
}

// ParseSTAT decodes a STAT PDU. The list is appended to dst[:0] which may be reused across calls.
func ParseSTAT(pdu kbuf.Chain, v *saal.Validator, dst []saal.Seq) (stat Stat, err error) {
	if pdu.Len() < sizeTrailerSTAT {
		return stat, saal.ErrShortBuffer
	}
	list, trailer, err := pdu.Split(pdu.Len() - sizeTrailerSTAT)
	if err != nil {
		return stat, err
	}
	cur := trailer.Cursor()
	w0, _ := cur.Uint32()
	w1, _ := cur.Uint32()
	w2, _ := cur.Uint32()
	r0, nps := splitWord(w0)
	r1, nmr := splitWord(w1)
	head, nr := splitWord(w2)
	if saal.PDUTypeFromTrailer(head) != saal.PDUStat {
		return stat, saal.ErrBadPDU
	}
	checkReserved(v, 0, r0)
	checkReserved(v, 32, r1)
	checkReserved(v, 64, head&^byte(0x0f))
	stat.List, err = ParseSeqElements(list, v, dst[:0])
	if err != nil {
		return stat, err
	}
	stat.NPS, stat.NMR, stat.NR = nps, nmr, nr
	return stat, validatorErr(v)
}

// Ustat is the decoded content of an unsolicited STAT PDU, sent by a receiver
// upon detecting a new gap. Missing sequence numbers are [List[0], List[1]).
type Ustat struct {
	NMR  saal.Seq
	NR   saal.Seq
	List [2]saal.Seq
}

// BuildUSTAT frames a USTAT PDU.
func BuildUSTAT(u Ustat) kbuf.Chain {
	buf := make([]byte, sizeUSTAT)
	putWord(buf[0:4], 0, u.List[0])
	putWord(buf[4:8], 0, u.List[1])
	putWord(buf[8:12], 0, u.NMR)
	putWord(buf[12:16], byte(saal.PDUUstat), u.NR)
	return kbuf.New(buf)
}

// ParseUSTAT decodes a USTAT PDU.
func ParseUSTAT(pdu kbuf.Chain, v *saal.Validator) (u Ustat, err error) {
	if pdu.Len() != sizeUSTAT {
		return u, saal.ErrBadPDU
	}
	cur := pdu.Cursor()
	var words [4]uint32
	for i := range words {
		words[i], _ = cur.Uint32()
	}
	r0, e0 := splitWord(words[0])
	r1, e1 := splitWord(words[1])
	r2, nmr := splitWord(words[2])
	head, nr := splitWord(words[3])
	if saal.PDUTypeFromTrailer(head) != saal.PDUUstat {
		return u, saal.ErrBadPDU
	}
	checkReserved(v, 0, r0)
	checkReserved(v, 32, r1)
	checkReserved(v, 64, r2)
	checkReserved(v, 96, head&^byte(0x0f))
	u = Ustat{NMR: nmr, NR: nr, List: [2]saal.Seq{e0, e1}}
	return u, validatorErr(v)
}

// ParseSeqElements walks a chain of 4 byte big endian list elements and appends the
// sequence numbers they carry to dst in wire order. Elements may straddle fragment
// boundaries and zero length fragments are skipped. The list ends with the chain;
// a trailing partial element is an error.
func ParseSeqElements(list kbuf.Chain, v *saal.Validator, dst []saal.Seq) ([]saal.Seq, error) {
	if list.Len()%sizeElement != 0 {
		return dst, saal.ErrBadPDU
	}
	cur := list.Cursor()
	bitpos := 0
	for cur.Remaining() > 0 {
		w, err := cur.Uint32()
		if err != nil {
			return dst, err
		}
		rsvd, seq := splitWord(w)
		checkReserved(v, bitpos, rsvd)
		dst = append(dst, seq)
		bitpos += 8 * sizeElement
	}
	return dst, nil
}

func checkReserved(v *saal.Validator, bitpos int, rsvd byte) {
	if v != nil && rsvd != 0 && v.Flags()&saal.ValidateReservedBits != 0 {
		v.AddBitPosErr(bitpos, 8, saal.ErrBadPDU)
	}
}

func validatorErr(v *saal.Validator) error {
	if v == nil {
		return nil
	}
	return v.Err()
}
