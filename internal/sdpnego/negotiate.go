package sdpnego

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rustalk/sbc/internal/codec"
)

// ErrNoCommonCodec is returned when the offer's audio codecs share nothing
// with the local catalog's enabled set.
var ErrNoCommonCodec = fmt.Errorf("sdpnego: no codec common to offer and local catalog")

// BuildAnswer constructs a B-leg answer SessionDescription for an offer,
// restricted to the codecs the local catalog shares with the offer (in the
// offerer's preference order), with the local addr/port substituted for
// the media connection and any a=crypto lines from the offer copied
// forward byte-for-byte — this system never parses or reissues SRTP key
// material, it only relays what both ends already agreed to exchange.
func BuildAnswer(offer *SessionDescription, cat *codec.Catalog, localAddr string, localPort int) (*SessionDescription, error) {
	offeredAudio := offer.AudioMedia()
	if offeredAudio == nil {
		return nil, fmt.Errorf("sdpnego: offer has no audio media section")
	}

	offeredCodecs := make([]codec.Codec, 0, len(offeredAudio.Codecs))
	for _, c := range offeredAudio.Codecs {
		offeredCodecs = append(offeredCodecs, codec.Codec{
			Name: c.Name, PayloadType: c.PayloadType, ClockRate: c.ClockRate, Channels: c.Channels, Fmtp: c.Fmtp,
		})
	}

	common, err := cat.Intersect(offeredCodecs)
	if err != nil {
		return nil, ErrNoCommonCodec
	}

	answer := &SessionDescription{
		Version:     0,
		Origin:      offer.Origin,
		SessionName: offer.SessionName,
		Time:        offer.Time,
		Connection:  &Connection{NetType: "IN", AddrType: "IP4", Address: localAddr},
	}

	audio := MediaDescription{
		Type:      "audio",
		Port:      localPort,
		Proto:     offeredAudio.Proto,
		Direction: "sendrecv",
	}

	for _, c := range common {
		audio.Formats = append(audio.Formats, c.PayloadType)
		rc := RTPCodec{PayloadType: c.PayloadType, Name: c.Name, ClockRate: c.ClockRate, Channels: c.Channels, Fmtp: c.Fmtp}
		audio.Codecs = append(audio.Codecs, rc)
		audio.Attributes = append(audio.Attributes, "rtpmap:"+rc.String())
		if rc.Fmtp != "" {
			audio.Attributes = append(audio.Attributes, "fmtp:"+strconv.Itoa(rc.PayloadType)+" "+rc.Fmtp)
		}
	}

	for _, crypto := range offeredAudio.Crypto {
		audio.Crypto = append(audio.Crypto, crypto)
		audio.Attributes = append(audio.Attributes, "crypto:"+crypto)
	}

	audio.Attributes = append(audio.Attributes, audio.Direction)

	answer.Media = append(answer.Media, audio)
	return answer, nil
}

// RewriteConnection returns a copy of sd with the session- and media-level
// connection address replaced by addr, used when relaying an SDP body
// across a leg boundary where the media endpoint differs from the
// signaling endpoint.
func RewriteConnection(sd *SessionDescription, addr string) *SessionDescription {
	out := *sd
	if out.Connection != nil {
		c := *out.Connection
		c.Address = addr
		out.Connection = &c
	}
	out.Media = append([]MediaDescription(nil), sd.Media...)
	for i, m := range out.Media {
		if m.Connection != nil {
			c := *m.Connection
			c.Address = addr
			out.Media[i].Connection = &c
		}
	}
	return &out
}

// CryptoLines returns the raw a=crypto: values (without the "crypto:"
// prefix) for the given media description, preserved in offer order.
func CryptoLines(m *MediaDescription) []string {
	out := make([]string, len(m.Crypto))
	copy(out, m.Crypto)
	return out
}

// Summary renders a short human-readable description of a session's audio
// media, for logging at dialog setup ("PCMU,PCMA RTP/SAVP (2 crypto suites)").
func Summary(sd *SessionDescription) string {
	m := sd.AudioMedia()
	if m == nil {
		return "no audio"
	}
	names := make([]string, len(m.Codecs))
	for i, c := range m.Codecs {
		names[i] = c.Name
	}
	s := strings.Join(names, ",") + " " + m.Proto
	if len(m.Crypto) > 0 {
		s += fmt.Sprintf(" (%d crypto suites)", len(m.Crypto))
	}
	return s
}
