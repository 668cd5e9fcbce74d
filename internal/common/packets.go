package common

import (
	"encoding/binary"
	"strconv"
)

type Packet struct {
	DataLength uint16
	Sync       uint16
	Flag       HeaderFlag
	Data       []byte
}

// PacketFromBytes decodes a packet and copies its body, so the result never
// aliases bytes.
func PacketFromBytes(bytes []byte) (Packet, error) {
	if len(bytes) < HeaderSize {
		return Packet{}, NewError(ErrMalformedPacket, "decode").
			WithMismatch(HeaderSize, len(bytes)).
			WithDetail("buffer shorter than header")
	}

	dataLength := binary.LittleEndian.Uint16(bytes[0:2])
	sync := binary.LittleEndian.Uint16(bytes[2:4])
	flag := HeaderFlag(binary.LittleEndian.Uint16(bytes[4:6]))

	if int(dataLength) > len(bytes)-HeaderSize {
		return Packet{}, NewError(ErrMalformedPacket, "decode").
			WithMismatch(int(dataLength), len(bytes)-HeaderSize).
			WithDetail("body exceeds buffer")
	}
	if !flag.valid() {
		return Packet{}, NewError(ErrMalformedPacket, "decode").
			WithDetail("invalid flags 0x%02x", uint16(flag))
	}

	pck := Packet{
		DataLength: dataLength,
		Sync:       sync,
		Flag:       flag,
	}
	if dataLength > 0 {
		pck.Data = make([]byte, dataLength)
		copy(pck.Data, bytes[HeaderSize:HeaderSize+int(dataLength)])
	}
	return pck, nil
}

func (pck *Packet) ToBytes() []byte {
	arr := make([]byte, HeaderSize+int(pck.DataLength))
	binary.LittleEndian.PutUint16(arr[0:2], pck.DataLength)
	binary.LittleEndian.PutUint16(arr[2:4], pck.Sync)
	binary.LittleEndian.PutUint16(arr[4:6], uint16(pck.Flag))
	copy(arr[HeaderSize:], pck.Data)

	return arr
}

func NewHandshake() *Packet {
	return &Packet{Flag: Handshake}
}

func NewFinish() *Packet {
	return &Packet{Flag: Finish}
}

// NewAck acknowledges pckToAck. Acks are control packets and carry no body.
func NewAck(pckToAck *Packet) *Packet {
	return &Packet{
		Flag: pckToAck.Flag.Kind() | Ack,
		Sync: pckToAck.Sync,
	}
}

// NewLength announces a message of totalLength bytes as decimal ASCII.
func NewLength(totalLength uint32) *Packet {
	data := []byte(strconv.FormatUint(uint64(totalLength), 10))
	return &Packet{
		Flag:       Length,
		DataLength: uint16(len(data)),
		Data:       data,
	}
}

func NewMessage(sync uint16, data []byte) *Packet {
	body := make([]byte, len(data))
	copy(body, data)
	return &Packet{
		Flag:       Message,
		Sync:       sync,
		DataLength: uint16(len(body)),
		Data:       body,
	}
}

func (pck *Packet) GetLengthPayload() (uint32, error) {
	if pck.Flag != Length {
		return 0, NewError(ErrMalformedPacket, "length payload").
			WithDetail("packet is %v", pck.Flag)
	}
	length, err := strconv.ParseUint(string(pck.Data), 10, 32)
	if err != nil {
		return 0, NewError(ErrMalformedPacket, "length payload").WithCause(err)
	}
	return uint32(length), nil
}
