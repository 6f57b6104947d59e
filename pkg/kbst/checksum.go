// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package kbst

import "github.com/sigurn/crc16"

// CRC-16/MODBUS: reflected 0xA001, initial 0xFFFF. The persistence layer
// checksums its blocks with the same parameters.
var checksumTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CalculateChecksum computes the 16-bit frame and block checksum
func CalculateChecksum(data []byte) uint16 {
	return crc16.Checksum(data, checksumTable)
}
