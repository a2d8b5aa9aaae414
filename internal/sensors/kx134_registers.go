// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// KX134 register addresses used by the driver.
const (
	regWhoAmI   = 0x13
	regCNTL1    = 0x1B
	regODCNTL   = 0x21
	regINC1     = 0x22
	regINC4     = 0x25
	regBufCNTL1 = 0x5E
	regBufCNTL2 = 0x5F
	regBufRead  = 0x63

	readFlag = 0x80

	whoAmIValue = 0x46
)

// Register values written during initialisation.
const (
	cntl1Standby     = 0x00
	cntl1Operating   = 0xD8 // PC1 | RES, GSEL ±64 g
	bufCNTL2Clear    = 0x80
	bufCNTL2Enable   = 0xE0 // BUFE | BRES (16-bit) | BFIE
	inc1PushPullHigh = 0x30 // IEN1 | IEA1
	inc4Routing      = 0x10
	odcntlDefault    = 0x06 // 50 Hz
)

// odrCodes maps output data rates in Hz to ODCNTL.OSA codes.
var odrCodes = map[int]byte{
	25600: 0x0F,
	12800: 0x0E,
	6400:  0x0D,
	3200:  0x0C,
	1600:  0x0B,
	800:   0x0A,
	400:   0x09,
	200:   0x08,
	100:   0x07,
	50:    0x06,
	25:    0x05,
	12:    0x04,
}

// ODRCode returns the ODCNTL code for hz and whether hz is a supported rate.
// Unsupported rates map to the 50 Hz code.
func ODRCode(hz int) (byte, bool) {
	code, ok := odrCodes[hz]
	if !ok {
		return odcntlDefault, false
	}
	return code, true
}

// SupportedRate reports whether the sensor has an output data rate of hz.
func SupportedRate(hz int) bool {
	_, ok := odrCodes[hz]
	return ok
}

// RegisterInfo describes one register for diagnostics output.
type RegisterInfo struct {
	Address     byte       `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// BitField describes a field inside a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterMap returns metadata for the registers the driver touches.
func RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		{Address: regWhoAmI, Name: "WHO_AM_I", Description: "Device identity", Access: "R"},
		{Address: regCNTL1, Name: "CNTL1", Description: "Control 1", Access: "RW",
			BitFields: []BitField{
				{Bits: "7", Name: "PC1", Description: "Operating mode", Values: "0=Standby, 1=Operating"},
				{Bits: "6", Name: "RES", Description: "Performance mode", Values: "0=Low power, 1=High performance"},
				{Bits: "5", Name: "DRDYE", Description: "Data ready engine", Values: "0=Disabled, 1=Enabled"},
				{Bits: "4:3", Name: "GSEL", Description: "Range", Values: "0=±8g, 1=±16g, 2=±32g, 3=±64g"},
			}},
		{Address: regODCNTL, Name: "ODCNTL", Description: "Output data rate control", Access: "RW",
			BitFields: []BitField{
				{Bits: "3:0", Name: "OSA", Description: "Output data rate", Values: "4=12.5Hz ... 15=25600Hz"},
			}},
		{Address: regINC1, Name: "INC1", Description: "INT1 pin control", Access: "RW",
			BitFields: []BitField{
				{Bits: "5", Name: "IEN1", Description: "INT1 enable", Values: "0=Disabled, 1=Enabled"},
				{Bits: "4", Name: "IEA1", Description: "INT1 polarity", Values: "0=Active low, 1=Active high"},
				{Bits: "3", Name: "IEL1", Description: "INT1 response", Values: "0=Latched, 1=Pulsed"},
			}},
		{Address: regINC4, Name: "INC4", Description: "INT1 routing", Access: "RW",
			BitFields: []BitField{
				{Bits: "6", Name: "BFI1", Description: "Buffer full on INT1", Values: "0=Off, 1=On"},
				{Bits: "5", Name: "WMI1", Description: "Watermark on INT1", Values: "0=Off, 1=On"},
				{Bits: "4", Name: "DRDYI1", Description: "Data ready on INT1", Values: "0=Off, 1=On"},
			}},
		{Address: regBufCNTL1, Name: "BUF_CNTL1", Description: "Buffer watermark threshold", Access: "RW"},
		{Address: regBufCNTL2, Name: "BUF_CNTL2", Description: "Buffer control", Access: "RW",
			BitFields: []BitField{
				{Bits: "7", Name: "BUFE", Description: "Buffer enable", Values: "0=Disabled, 1=Enabled"},
				{Bits: "6", Name: "BRES", Description: "Sample resolution", Values: "0=8-bit, 1=16-bit"},
				{Bits: "5", Name: "BFIE", Description: "Buffer full interrupt", Values: "0=Disabled, 1=Enabled"},
				{Bits: "1:0", Name: "BM", Description: "Buffer mode", Values: "0=FIFO, 1=Stream, 2=Trigger"},
			}},
	}
}
