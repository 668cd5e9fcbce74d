package common

import "time"

// HeaderSize is the encoded size of body_size, sequence and flags.
const HeaderSize int = 2 + 2 + 2

// MaxDatagramSize is the largest UDP payload that can be sent over IPv4.
const MaxDatagramSize = 65507

const (
	DefaultPacketSize    = 1024
	DefaultBufferSize    = 2048
	DefaultRetryCount    = 3
	DefaultRetryInterval = 1 * time.Second
)

type HeaderFlag uint16

// Exactly one of Handshake, Length, Finish or Message is the primary kind of a
// packet. Ack is orthogonal and marks an acknowledgement of that kind.
const (
	Message   HeaderFlag = 0x08
	Ack       HeaderFlag = 0x10
	Finish    HeaderFlag = 0x20
	Length    HeaderFlag = 0x40
	Handshake HeaderFlag = 0x80
)

const kindMask = Handshake | Length | Finish | Message

// Kind returns the primary kind with the Ack bit cleared.
func (flag HeaderFlag) Kind() HeaderFlag {
	return flag & kindMask
}

func (flag HeaderFlag) IsAck() bool {
	return flag&Ack != 0
}

func (flag HeaderFlag) String() string {
	var name string
	switch flag.Kind() {
	case Handshake:
		name = "HANDSHAKE"
	case Length:
		name = "LENGTH"
	case Finish:
		name = "FINISH"
	case Message:
		name = "MESSAGE"
	default:
		name = "UNKNOWN"
	}
	if flag.IsAck() {
		name += "+ACK"
	}
	return name
}

// valid reports whether exactly one primary kind is set and no unknown bits are.
func (flag HeaderFlag) valid() bool {
	if flag&^(kindMask|Ack) != 0 {
		return false
	}
	switch flag.Kind() {
	case Handshake, Length, Finish, Message:
		return true
	}
	return false
}
