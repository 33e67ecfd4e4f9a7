package saal

import "strconv"

// PDUType is the 4 bit type tag found in the final trailer octet of every SSCOP PDU.
// Values are those of ITU-T Q.2110.
type PDUType uint8

const (
	_           PDUType = iota
	PDUBgn              // BGN
	PDUBgak             // BGAK
	PDUEnd              // END
	PDUEndak            // ENDAK
	PDURs               // RS
	PDURsak             // RSAK
	PDUBgrej            // BGREJ
	PDUSd               // SD
	PDUEr               // ER
	PDUPoll             // POLL
	PDUStat             // STAT
	PDUUstat            // USTAT
	PDUUd               // UD
	PDUMd               // MD
	PDUErak             // ERAK
	pduTypeMask PDUType = 0x0f
)

var pduTypeNames = [...]string{
	PDUBgn:   "BGN",
	PDUBgak:  "BGAK",
	PDUEnd:   "END",
	PDUEndak: "ENDAK",
	PDURs:    "RS",
	PDURsak:  "RSAK",
	PDUBgrej: "BGREJ",
	PDUSd:    "SD",
	PDUEr:    "ER",
	PDUPoll:  "POLL",
	PDUStat:  "STAT",
	PDUUstat: "USTAT",
	PDUUd:    "UD",
	PDUMd:    "MD",
	PDUErak:  "ERAK",
}

// PDUTypeFromTrailer extracts the type tag from a trailer octet.
func PDUTypeFromTrailer(b byte) PDUType { return PDUType(b) & pduTypeMask }

// IsValid returns true for the fifteen defined PDU types.
func (t PDUType) IsValid() bool { return t >= PDUBgn && t <= PDUErak }

func (t PDUType) String() string {
	if t.IsValid() {
		return pduTypeNames[t]
	}
	return "PDUType(" + strconv.Itoa(int(t)) + ")"
}

// Variant selects between the SSCOP flavours in use. They differ in whether
// BGN/RS/ER PDUs carry the connection level N(SQ) sequence field.
type Variant uint8

const (
	// VariantQ2110 is ITU-T Q.2110 SSCOP. Carries N(SQ).
	VariantQ2110 Variant = iota
	// VariantQSAAL is the pre-standard ATM Forum Q.SAAL1 SSCOP. No N(SQ) field.
	VariantQSAAL
)

// HasConnSeq reports whether the variant carries the N(SQ) connection sequence field.
func (v Variant) HasConnSeq() bool { return v == VariantQ2110 }

func (v Variant) String() string {
	switch v {
	case VariantQ2110:
		return "Q.2110"
	case VariantQSAAL:
		return "Q.SAAL1"
	}
	return "Variant(" + strconv.Itoa(int(v)) + ")"
}
