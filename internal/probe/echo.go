package probe

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// echoPayload is carried by every echo request. 56 bytes, as ping(8) sends.
var echoPayload = []byte("rttdist echo payload 0123456789abcdefghijklmnopqrstuvwxy")

// echoReply is the identifying part of a decoded echo reply.
type echoReply struct {
	ID  uint16
	Seq uint16
}

// encodeEcho builds an ICMP echo request without an IP header. ICMPv6
// checksums depend on the pseudo header, so those are left for the kernel.
func encodeEcho(v6 bool, id, seq uint16, payload []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()

	var err error
	if v6 {
		err = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
			&layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)},
			&layers.ICMPv6Echo{Identifier: id, SeqNumber: seq},
			gopacket.Payload(payload),
		)
	} else {
		err = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{ComputeChecksums: true},
			&layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: id, Seq: seq},
			gopacket.Payload(payload),
		)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeEchoReply parses an ICMP message (without IP header) and reports
// whether it is an echo reply.
func decodeEchoReply(v6 bool, data []byte) (echoReply, bool) {
	if v6 {
		packet := gopacket.NewPacket(data, layers.LayerTypeICMPv6, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		icmpLayer, ok := packet.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
		if !ok || icmpLayer.TypeCode.Type() != layers.ICMPv6TypeEchoReply {
			return echoReply{}, false
		}
		echo, ok := packet.Layer(layers.LayerTypeICMPv6Echo).(*layers.ICMPv6Echo)
		if !ok {
			return echoReply{}, false
		}
		return echoReply{ID: echo.Identifier, Seq: echo.SeqNumber}, true
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeICMPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	icmpLayer, ok := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if !ok || icmpLayer.TypeCode.Type() != layers.ICMPv4TypeEchoReply {
		return echoReply{}, false
	}
	return echoReply{ID: icmpLayer.Id, Seq: icmpLayer.Seq}, true
}
