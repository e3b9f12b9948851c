// Stargazer - Live Room Watcher and Social Notification Relay
// Copyright 2026 SuiseiCN Developers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/suisei-cn/stargazer

package feed

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
)

// Bililive frame header: total length u32, header length u16, protocol
// version u16, operation u32, sequence u32, all big endian, followed by the
// body. One websocket message may carry several frames back to back, and a
// version-2 body is a zlib-compressed run of further frames.
const blHeaderLen = 16

const (
	blOpHeartbeat      = 2
	blOpHeartbeatReply = 3
	blOpNotification   = 5
	blOpEnterRoom      = 7
	blOpEnterReply     = 8
)

const (
	blVerPlain      = 0
	blVerPopularity = 1
	blVerZlib       = 2
)

type blPacket struct {
	version uint16
	op      uint32
	body    []byte
}

// encodeBlPacket frames one outbound packet.
func encodeBlPacket(op uint32, body []byte) []byte {
	buf := make([]byte, blHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(blHeaderLen+len(body)))
	binary.BigEndian.PutUint16(buf[4:6], blHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], blVerPlain)
	binary.BigEndian.PutUint32(buf[8:12], op)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[blHeaderLen:], body)
	return buf
}

// decodeBlPackets splits one websocket message into its packets, inflating
// compressed batches. Any framing damage fails the whole message with an
// ErrMalformed-wrapped error.
func decodeBlPackets(data []byte) ([]blPacket, error) {
	var packets []blPacket
	for len(data) > 0 {
		if len(data) < blHeaderLen {
			return nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrMalformed, len(data))
		}
		total := binary.BigEndian.Uint32(data[0:4])
		headerLen := binary.BigEndian.Uint16(data[4:6])
		if headerLen < blHeaderLen || uint32(headerLen) > total || total > uint32(len(data)) {
			return nil, fmt.Errorf("%w: frame length %d/%d exceeds message (%d bytes)", ErrMalformed, headerLen, total, len(data))
		}
		pkt := blPacket{
			version: binary.BigEndian.Uint16(data[6:8]),
			op:      binary.BigEndian.Uint32(data[8:12]),
			body:    data[headerLen:total],
		}
		data = data[total:]

		if pkt.version == blVerZlib {
			inner, err := inflateBlBatch(pkt.body)
			if err != nil {
				return nil, err
			}
			packets = append(packets, inner...)
			continue
		}
		packets = append(packets, pkt)
	}
	return packets, nil
}

func inflateBlBatch(body []byte) ([]blPacket, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib batch: %v", ErrMalformed, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib batch: %v", ErrMalformed, err)
	}
	return decodeBlPackets(raw)
}
