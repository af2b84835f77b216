// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// ============================================================
// Encoder Tests
// ============================================================

func TestEncodeHeartbeat(t *testing.T) {
	got := EncodeFrame(CmdHeartbeat, nil)
	want := []byte{0x55, 0xAA, 0x00, 0x00, 0x00, 0x00, 0xFF}

	if !bytes.Equal(got, want) {
		t.Errorf("EncodeFrame(HEARTBEAT) = % X, want % X", got, want)
	}
}

func TestEncodeFrameLayout(t *testing.T) {
	payload := []byte{0x01, 0x01, 0x00, 0x01, 0x01}
	frame := EncodeFrame(CmdSetDP, payload)

	if len(frame) != len(payload)+MinFrameSize {
		t.Fatalf("frame length = %d, want %d", len(frame), len(payload)+MinFrameSize)
	}
	if frame[2] != 0x00 {
		t.Errorf("version = %d, want 0", frame[2])
	}
	if frame[3] != CmdSetDP {
		t.Errorf("command = 0x%02X, want 0x%02X", frame[3], CmdSetDP)
	}
	if frame[4] != 0x00 || frame[5] != 0x05 {
		t.Errorf("length bytes = %02X %02X, want 00 05", frame[4], frame[5])
	}

	// 0xFF + cmd + lenHi + lenLo + sum(payload)
	want := uint8((0xFF + CmdSetDP + 0x00 + 0x05 + 0x01 + 0x01 + 0x00 + 0x01 + 0x01) % 256)
	if frame[len(frame)-1] != want {
		t.Errorf("checksum = 0x%02X, want 0x%02X", frame[len(frame)-1], want)
	}
}

func TestEncodeWithChecksum(t *testing.T) {
	// RSSI -54 as sent by hand over the UART tool
	got := EncodeWithChecksum([]byte{0x55, 0xAA, 0x00, 0x24, 0x00, 0x01, 0xCA})
	want := []byte{0x55, 0xAA, 0x00, 0x24, 0x00, 0x01, 0xCA, 0xEE}

	if !bytes.Equal(got, want) {
		t.Errorf("EncodeWithChecksum = % X, want % X", got, want)
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{"plain", "55AA0008000007", []byte{0x55, 0xAA, 0x00, 0x08, 0x00, 0x00, 0x07}, false},
		{"spaced", "55 AA 00", []byte{0x55, 0xAA, 0x00}, false},
		{"prefixed", "0x0102", []byte{0x01, 0x02}, false},
		{"empty", "", []byte{}, false},
		{"odd", "123", nil, true},
		{"invalid", "zz", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHex(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseHex(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseHex(%q) error: %v", tt.in, err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ParseHex(%q) = % X, want % X", tt.in, got, tt.want)
			}
		})
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecodeErrors(t *testing.T) {
	valid := EncodeFrame(CmdState, []byte{0x01, 0x01, 0x00, 0x01, 0x01})

	badSync := append([]byte(nil), valid...)
	badSync[1] = 0xAB

	badLength := append([]byte(nil), valid...)
	badLength = append(badLength, 0x00)

	badChecksum := append([]byte(nil), valid...)
	badChecksum[len(badChecksum)-1]++

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrTruncated},
		{"short", valid[:6], ErrTruncated},
		{"bad sync", badSync, ErrBadSync},
		{"extra byte", badLength, ErrLengthMismatch},
		{"missing byte", valid[:len(valid)-1], ErrLengthMismatch},
		{"bad checksum", badChecksum, ErrChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
			if p != nil {
				t.Errorf("Decode returned a packet on error")
			}
		})
	}
}

func TestDecodeFields(t *testing.T) {
	frame := EncodeFrameVersion(VersionStandard, CmdQueryProduct, []byte(`{"p":"abc"}`))

	p, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if p.Version() != VersionStandard {
		t.Errorf("Version = %d, want %d", p.Version(), VersionStandard)
	}
	if p.Command() != CmdQueryProduct {
		t.Errorf("Command = %d, want %d", p.Command(), CmdQueryProduct)
	}
	if string(p.Payload()) != `{"p":"abc"}` {
		t.Errorf("Payload = %q", p.Payload())
	}
	if p.Checksum() != frame[len(frame)-1] {
		t.Errorf("Checksum = 0x%02X, want 0x%02X", p.Checksum(), frame[len(frame)-1])
	}
	if p.Timestamp().IsZero() {
		t.Error("Timestamp not set")
	}
	if !bytes.Equal(p.Encode(), frame) {
		t.Errorf("Encode = % X, want % X", p.Encode(), frame)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)

	for i := 0; i < getFuzzRounds(); i++ {
		cmd := uint8(rng.Intn(256))
		payload := randomBytes(rng, rng.Intn(251))

		p, err := Decode(EncodeFrame(cmd, payload))
		if err != nil {
			t.Fatalf("round %d: Decode error: %v", i, err)
		}
		if p.Version() != 0 || p.Command() != cmd || !bytes.Equal(p.Payload(), payload) {
			t.Fatalf("round %d: got ver=%d cmd=%d payload=% X, want ver=0 cmd=%d payload=% X",
				i, p.Version(), p.Command(), p.Payload(), cmd, payload)
		}
	}
}

// Flipping any bit outside the sync and length fields must be caught by the
// checksum. Sync and length flips are reported as their own errors.
func TestDecodeBitFlips(t *testing.T) {
	frame := EncodeFrameVersion(VersionStandard, CmdState, []byte{0x01, 0x02, 0x00, 0x04, 0x00, 0x00, 0x01, 0xF4})

	for pos := range frame {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), frame...)
			flipped[pos] ^= 1 << bit

			var want error
			switch {
			case pos < 2:
				want = ErrBadSync
			case pos == 4 || pos == 5:
				want = ErrLengthMismatch
			default:
				want = ErrChecksum
			}

			if _, err := Decode(flipped); !errors.Is(err, want) {
				t.Errorf("flip byte %d bit %d: error = %v, want %v", pos, bit, err, want)
			}
		}
	}
}

// ============================================================
// Command Builder Tests
// ============================================================

func TestCommandBuilders(t *testing.T) {
	tests := []struct {
		name    string
		packet  *Packet
		cmd     uint8
		payload []byte
	}{
		{"heartbeat", NewHeartbeat(), CmdHeartbeat, nil},
		{"query product", NewQueryProduct(), CmdQueryProduct, nil},
		{"mcu conf", NewMCUConfQuery(), CmdMCUConf, nil},
		{"query state", NewQueryState(), CmdQueryState, nil},
		{"wifi state", NewWiFiState(WiFiStateCloud), CmdWiFiState, []byte{0x04}},
		{"rssi", NewRSSI(-54), CmdSetRSSI, []byte{0xCA}},
		{"bool", NewSetDPBool(1, true), CmdSetDP, []byte{0x01, 0x01, 0x00, 0x01, 0x01}},
		{"value", NewSetDPValue(2, 500), CmdSetDP, []byte{0x02, 0x02, 0x00, 0x04, 0x00, 0x00, 0x01, 0xF4}},
		{"enum", NewSetDPEnum(4, 2), CmdSetDP, []byte{0x04, 0x04, 0x00, 0x01, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.packet.Command() != tt.cmd {
				t.Errorf("Command = 0x%02X, want 0x%02X", tt.packet.Command(), tt.cmd)
			}
			if tt.packet.Version() != 0 {
				t.Errorf("Version = %d, want 0", tt.packet.Version())
			}
			if !bytes.Equal(tt.packet.Payload(), tt.payload) && !(len(tt.payload) == 0 && tt.packet.Length() == 0) {
				t.Errorf("Payload = % X, want % X", tt.packet.Payload(), tt.payload)
			}
			if _, err := Decode(tt.packet.Encode()); err != nil {
				t.Errorf("encoded frame does not decode: %v", err)
			}
		})
	}
}

func TestRSSIFrame(t *testing.T) {
	got := NewRSSI(-54).Encode()
	want := []byte{0x55, 0xAA, 0x00, 0x24, 0x00, 0x01, 0xCA, 0xEE}
	if !bytes.Equal(got, want) {
		t.Errorf("RSSI frame = % X, want % X", got, want)
	}
}

func TestNewSetDataPoint(t *testing.T) {
	p, err := NewSetDataPoint(3, DPTypeBool, 7)
	if err != nil {
		t.Fatalf("NewSetDataPoint(bool) error: %v", err)
	}
	if !bytes.Equal(p.Payload(), []byte{0x03, 0x01, 0x00, 0x01, 0x01}) {
		t.Errorf("bool payload = % X", p.Payload())
	}

	p, err = NewSetDataPoint(9, DPTypeBitmap, 0x0102)
	if err != nil {
		t.Fatalf("NewSetDataPoint(bitmap) error: %v", err)
	}
	if !bytes.Equal(p.Payload(), []byte{0x09, 0x05, 0x00, 0x04, 0x00, 0x00, 0x01, 0x02}) {
		t.Errorf("bitmap payload = % X", p.Payload())
	}

	for _, dpType := range []DataPointType{DPTypeString, DPTypeRaw, DPTypeRawDDS238} {
		if _, err := NewSetDataPoint(1, dpType, 1); !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("NewSetDataPoint(%s) error = %v, want ErrUnsupportedType", dpType, err)
		}
	}
}

func TestNewSetDPStringAndRaw(t *testing.T) {
	p, err := NewSetDPString(5, "hi")
	if err != nil {
		t.Fatalf("NewSetDPString error: %v", err)
	}
	if !bytes.Equal(p.Payload(), []byte{0x05, 0x03, 0x00, 0x02, 'h', 'i'}) {
		t.Errorf("string payload = % X", p.Payload())
	}

	p, err = NewSetDPRaw(6, []byte{0xDE, 0xAD})
	if err != nil {
		t.Fatalf("NewSetDPRaw error: %v", err)
	}
	if !bytes.Equal(p.Payload(), []byte{0x06, 0x00, 0x00, 0x02, 0xDE, 0xAD}) {
		t.Errorf("raw payload = % X", p.Payload())
	}

	if _, err := NewSetDPRaw(6, make([]byte, MaxPayloadSize)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized raw error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestNewSetTime(t *testing.T) {
	// 2024-03-17 is a Sunday, which Tuya numbers 7
	ts := time.Date(2024, time.March, 17, 13, 5, 9, 0, time.UTC)

	p := NewSetTime(ts, true)
	want := []byte{0x01, 24, 3, 17, 13, 5, 9, 7}
	if !bytes.Equal(p.Payload(), want) {
		t.Errorf("SetTime payload = % X, want % X", p.Payload(), want)
	}

	// Monday is 1
	p = NewSetTime(ts.AddDate(0, 0, 1), true)
	if p.Payload()[7] != 1 {
		t.Errorf("Monday weekday = %d, want 1", p.Payload()[7])
	}

	// Local times are converted to UTC
	p = NewSetTime(ts.In(time.FixedZone("UTC+2", 2*3600)), true)
	if !bytes.Equal(p.Payload(), want) {
		t.Errorf("zoned SetTime payload = % X, want % X", p.Payload(), want)
	}

	p = NewSetTime(time.Time{}, false)
	if !bytes.Equal(p.Payload(), make([]byte, 8)) {
		t.Errorf("unknown time payload = % X, want zeros", p.Payload())
	}
}

// ============================================================
// Data Point Type Tests
// ============================================================

func TestParseDataPointType(t *testing.T) {
	tests := []struct {
		in      string
		want    DataPointType
		wantErr bool
	}{
		{"bool", DPTypeBool, false},
		{"val", DPTypeValue, false},
		{"VALUE", DPTypeValue, false},
		{"str", DPTypeString, false},
		{"enum", DPTypeEnum, false},
		{"raw", DPTypeRaw, false},
		{"bitmap", DPTypeBitmap, false},
		{"RAW_DDS238", DPTypeRawDDS238, false},
		{"raw_tac2121c_vcp", DPTypeRawTAC2121CVCP, false},
		{"RAW_TAC2121C_Yesterday", DPTypeRawTAC2121CYesterday, false},
		{"RAW_TAC2121C_LastMonth", DPTypeRawTAC2121CLastMonth, false},
		{"2", DPTypeValue, false},
		{"nope", 0, true},
		{"300", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDataPointType(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDataPointType(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDataPointType(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDataPointType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if !DPTypeRawTAC2121CVCP.IsVendorRaw() || DPTypeRaw.IsVendorRaw() {
		t.Error("IsVendorRaw misclassifies types")
	}
}
