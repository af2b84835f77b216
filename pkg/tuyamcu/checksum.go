// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

// CalculateChecksum returns the low byte of the sum of data.
//
// Over a frame without its trailing checksum byte this equals
// 0xFF + command + lenHi + lenLo + sum(payload), since 0x55 + 0xAA = 0xFF.
func CalculateChecksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum
}
