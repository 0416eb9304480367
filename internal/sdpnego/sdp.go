// Package sdpnego parses and negotiates SDP (RFC 4566) session
// descriptions for the B2BUA's two legs. It treats SRTP crypto lines as
// opaque: a=crypto attributes are captured and replayed byte-for-byte,
// never parsed or validated, since key material and cipher negotiation are
// outside this system's trust boundary.
package sdpnego

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	lineVersion    = "v="
	lineOrigin     = "o="
	lineSession    = "s="
	lineConnection = "c="
	lineTime       = "t="
	lineMedia      = "m="
	lineAttribute  = "a="
)

// Connection holds SDP connection data from a c= line.
type Connection struct {
	NetType  string
	AddrType string
	Address  string
}

func (c Connection) String() string {
	return c.NetType + " " + c.AddrType + " " + c.Address
}

// Origin holds SDP origin data from an o= line.
type Origin struct {
	Username       string
	SessionID      string
	SessionVersion string
	NetType        string
	AddrType       string
	Address        string
}

func (o Origin) String() string {
	return o.Username + " " + o.SessionID + " " + o.SessionVersion + " " +
		o.NetType + " " + o.AddrType + " " + o.Address
}

// RTPCodec is a codec as it appears in an SDP rtpmap/fmtp pair.
type RTPCodec struct {
	PayloadType int
	Name        string
	ClockRate   int
	Channels    int
	Fmtp        string
}

func (c RTPCodec) String() string {
	s := strconv.Itoa(c.PayloadType) + " " + c.Name + "/" + strconv.Itoa(c.ClockRate)
	if c.Channels > 0 {
		s += "/" + strconv.Itoa(c.Channels)
	}
	return s
}

// MediaDescription holds a parsed SDP m= section.
type MediaDescription struct {
	Type       string
	Port       int
	NumPorts   int
	Proto      string // "RTP/AVP", "RTP/SAVP", "RTP/SAVPF", ...
	Formats    []int
	Connection *Connection
	Codecs     []RTPCodec
	Attributes []string
	Direction  string
	// Crypto holds raw a=crypto: attribute values (without the "crypto:"
	// prefix), preserved verbatim for SRTP passthrough.
	Crypto []string
}

// CodecByPayloadType returns the codec with the given payload type, or nil.
func (m *MediaDescription) CodecByPayloadType(pt int) *RTPCodec {
	for i := range m.Codecs {
		if m.Codecs[i].PayloadType == pt {
			return &m.Codecs[i]
		}
	}
	return nil
}

// IsSRTP reports whether the media section's transport protocol implies
// SRTP (RTP/SAVP or RTP/SAVPF).
func (m *MediaDescription) IsSRTP() bool {
	return m.Proto == "RTP/SAVP" || m.Proto == "RTP/SAVPF"
}

// SessionDescription holds a fully parsed SDP session.
type SessionDescription struct {
	Version     int
	Origin      Origin
	SessionName string
	Connection  *Connection
	Time        string
	Media       []MediaDescription
	Attributes  []string
}

// AudioMedia returns the first audio media description, or nil if none.
func (s *SessionDescription) AudioMedia() *MediaDescription {
	for i := range s.Media {
		if s.Media[i].Type == "audio" {
			return &s.Media[i]
		}
	}
	return nil
}

// ConnectionAddress returns the effective connection address for a media
// description, preferring the media-level c= line over the session-level.
func (s *SessionDescription) ConnectionAddress(m *MediaDescription) string {
	if m.Connection != nil {
		return m.Connection.Address
	}
	if s.Connection != nil {
		return s.Connection.Address
	}
	return ""
}

// Parse parses an SDP body into a SessionDescription.
func Parse(data []byte) (*SessionDescription, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	lines := strings.Split(text, "\n")

	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil, fmt.Errorf("sdpnego: empty sdp body")
	}

	sd := &SessionDescription{}
	var currentMedia *MediaDescription

	for _, line := range lines {
		if len(line) < 2 || line[1] != '=' {
			continue
		}

		switch {
		case strings.HasPrefix(line, lineVersion):
			v, err := strconv.Atoi(line[2:])
			if err != nil {
				return nil, fmt.Errorf("sdpnego: invalid version: %w", err)
			}
			sd.Version = v

		case strings.HasPrefix(line, lineOrigin):
			o, err := parseOrigin(line[2:])
			if err != nil {
				return nil, fmt.Errorf("sdpnego: invalid origin: %w", err)
			}
			sd.Origin = o

		case strings.HasPrefix(line, lineSession):
			sd.SessionName = line[2:]

		case strings.HasPrefix(line, lineConnection):
			conn, err := parseConnection(line[2:])
			if err != nil {
				return nil, fmt.Errorf("sdpnego: invalid connection: %w", err)
			}
			if currentMedia != nil {
				currentMedia.Connection = &conn
			} else {
				sd.Connection = &conn
			}

		case strings.HasPrefix(line, lineTime):
			sd.Time = line[2:]

		case strings.HasPrefix(line, lineMedia):
			md, err := parseMediaLine(line[2:])
			if err != nil {
				return nil, fmt.Errorf("sdpnego: invalid media line: %w", err)
			}
			sd.Media = append(sd.Media, md)
			currentMedia = &sd.Media[len(sd.Media)-1]

		case strings.HasPrefix(line, lineAttribute):
			attr := line[2:]
			if currentMedia != nil {
				currentMedia.Attributes = append(currentMedia.Attributes, attr)
				parseMediaAttribute(currentMedia, attr)
			} else {
				sd.Attributes = append(sd.Attributes, attr)
			}
		}
	}

	return sd, nil
}

// Marshal serializes a SessionDescription back to SDP wire format.
func (s *SessionDescription) Marshal() []byte {
	var b strings.Builder

	b.WriteString("v=" + strconv.Itoa(s.Version) + "\r\n")
	b.WriteString("o=" + s.Origin.String() + "\r\n")
	b.WriteString("s=" + s.SessionName + "\r\n")

	if s.Connection != nil {
		b.WriteString("c=" + s.Connection.String() + "\r\n")
	}

	b.WriteString("t=" + s.Time + "\r\n")

	for _, attr := range s.Attributes {
		b.WriteString("a=" + attr + "\r\n")
	}

	for _, m := range s.Media {
		fmts := make([]string, len(m.Formats))
		for i, f := range m.Formats {
			fmts[i] = strconv.Itoa(f)
		}
		portStr := strconv.Itoa(m.Port)
		if m.NumPorts > 0 {
			portStr += "/" + strconv.Itoa(m.NumPorts)
		}
		b.WriteString("m=" + m.Type + " " + portStr + " " + m.Proto + " " + strings.Join(fmts, " ") + "\r\n")

		if m.Connection != nil {
			b.WriteString("c=" + m.Connection.String() + "\r\n")
		}

		for _, attr := range m.Attributes {
			b.WriteString("a=" + attr + "\r\n")
		}
	}

	return []byte(b.String())
}

func parseConnection(value string) (Connection, error) {
	parts := strings.Fields(value)
	if len(parts) < 3 {
		return Connection{}, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}
	addr := parts[2]
	if idx := strings.Index(addr, "/"); idx >= 0 {
		addr = addr[:idx]
	}
	if net.ParseIP(addr) == nil {
		return Connection{}, fmt.Errorf("invalid ip address %q", addr)
	}
	return Connection{NetType: parts[0], AddrType: parts[1], Address: addr}, nil
}

func parseOrigin(value string) (Origin, error) {
	parts := strings.Fields(value)
	if len(parts) < 6 {
		return Origin{}, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}
	return Origin{
		Username: parts[0], SessionID: parts[1], SessionVersion: parts[2],
		NetType: parts[3], AddrType: parts[4], Address: parts[5],
	}, nil
}

func parseMediaLine(value string) (MediaDescription, error) {
	parts := strings.Fields(value)
	if len(parts) < 4 {
		return MediaDescription{}, fmt.Errorf("expected at least 4 fields, got %d", len(parts))
	}

	md := MediaDescription{Type: parts[0], Proto: parts[2], Direction: "sendrecv"}

	portStr := parts[1]
	if idx := strings.Index(portStr, "/"); idx >= 0 {
		n, err := strconv.Atoi(portStr[idx+1:])
		if err != nil {
			return MediaDescription{}, fmt.Errorf("invalid port count: %w", err)
		}
		md.NumPorts = n
		portStr = portStr[:idx]
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return MediaDescription{}, fmt.Errorf("invalid port: %w", err)
	}
	md.Port = port

	for _, f := range parts[3:] {
		pt, err := strconv.Atoi(f)
		if err != nil {
			return MediaDescription{}, fmt.Errorf("invalid payload type %q: %w", f, err)
		}
		md.Formats = append(md.Formats, pt)
	}

	return md, nil
}

func parseMediaAttribute(md *MediaDescription, attr string) {
	switch {
	case strings.HasPrefix(attr, "rtpmap:"):
		codec, err := parseRtpmap(attr[7:])
		if err == nil {
			for i := range md.Codecs {
				if md.Codecs[i].PayloadType == codec.PayloadType {
					codec.Fmtp = md.Codecs[i].Fmtp
					md.Codecs[i] = codec
					return
				}
			}
			md.Codecs = append(md.Codecs, codec)
		}

	case strings.HasPrefix(attr, "fmtp:"):
		pt, params, ok := parseFmtp(attr[5:])
		if ok {
			for i := range md.Codecs {
				if md.Codecs[i].PayloadType == pt {
					md.Codecs[i].Fmtp = params
					return
				}
			}
			md.Codecs = append(md.Codecs, RTPCodec{PayloadType: pt, Fmtp: params})
		}

	case strings.HasPrefix(attr, "crypto:"):
		// SRTP opacity: capture verbatim, never parsed.
		md.Crypto = append(md.Crypto, attr[len("crypto:"):])

	case attr == "sendrecv" || attr == "sendonly" || attr == "recvonly" || attr == "inactive":
		md.Direction = attr
	}
}

func parseRtpmap(value string) (RTPCodec, error) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return RTPCodec{}, fmt.Errorf("expected '<pt> <encoding>', got %q", value)
	}
	pt, err := strconv.Atoi(parts[0])
	if err != nil {
		return RTPCodec{}, fmt.Errorf("invalid payload type: %w", err)
	}
	encParts := strings.Split(parts[1], "/")
	if len(encParts) < 2 {
		return RTPCodec{}, fmt.Errorf("expected '<name>/<rate>', got %q", parts[1])
	}
	clockRate, err := strconv.Atoi(encParts[1])
	if err != nil {
		return RTPCodec{}, fmt.Errorf("invalid clock rate: %w", err)
	}
	codec := RTPCodec{PayloadType: pt, Name: encParts[0], ClockRate: clockRate}
	if len(encParts) >= 3 {
		if ch, err := strconv.Atoi(encParts[2]); err == nil {
			codec.Channels = ch
		}
	}
	return codec, nil
}

func parseFmtp(value string) (int, string, bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) < 2 {
		return 0, "", false
	}
	pt, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return pt, parts[1], true
}
