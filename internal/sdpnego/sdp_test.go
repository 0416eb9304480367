package sdpnego

import (
	"strings"
	"testing"
)

const offerWithSRTP = `v=0
o=alice 2890844526 2890844526 IN IP4 192.168.1.100
s=Call
c=IN IP4 192.168.1.100
t=0 0
m=audio 49170 RTP/SAVP 0 8 111
a=rtpmap:0 PCMU/8000
a=rtpmap:8 PCMA/8000
a=rtpmap:111 opus/48000/2
a=fmtp:111 useinbandfec=1
a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:WnD2gtgwoXwWdaZMX+VuurGTpXxKqgxyFQcVPqIH
a=sendrecv
`

func TestParseBasicFields(t *testing.T) {
	sd, err := Parse([]byte(offerWithSRTP))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if sd.Version != 0 {
		t.Errorf("version = %d, want 0", sd.Version)
	}
	if sd.Origin.Username != "alice" {
		t.Errorf("origin username = %q, want alice", sd.Origin.Username)
	}
	if sd.Connection == nil || sd.Connection.Address != "192.168.1.100" {
		t.Fatal("expected session-level connection address to be parsed")
	}
	if len(sd.Media) != 1 {
		t.Fatalf("media count = %d, want 1", len(sd.Media))
	}
}

func TestParseCodecsAndFmtp(t *testing.T) {
	sd, err := Parse([]byte(offerWithSRTP))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	m := sd.AudioMedia()
	if m == nil {
		t.Fatal("expected an audio media section")
	}
	opus := m.CodecByPayloadType(111)
	if opus == nil {
		t.Fatal("expected opus codec to be parsed")
	}
	if opus.ClockRate != 48000 || opus.Channels != 2 {
		t.Errorf("opus clock/channels = %d/%d, want 48000/2", opus.ClockRate, opus.Channels)
	}
	if opus.Fmtp != "useinbandfec=1" {
		t.Errorf("opus fmtp = %q, want useinbandfec=1", opus.Fmtp)
	}
}

func TestParseCryptoCapturedVerbatim(t *testing.T) {
	sd, err := Parse([]byte(offerWithSRTP))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	m := sd.AudioMedia()
	if !m.IsSRTP() {
		t.Fatal("expected RTP/SAVP media to report IsSRTP true")
	}
	if len(m.Crypto) != 1 {
		t.Fatalf("expected 1 crypto line, got %d", len(m.Crypto))
	}
	want := "1 AES_CM_128_HMAC_SHA1_80 inline:WnD2gtgwoXwWdaZMX+VuurGTpXxKqgxyFQcVPqIH"
	if m.Crypto[0] != want {
		t.Errorf("crypto line = %q, want %q (must be preserved byte-for-byte)", m.Crypto[0], want)
	}
}

func TestFmtpBeforeRtpmapOrdering(t *testing.T) {
	// Some UAs emit fmtp before the corresponding rtpmap line; the parser
	// must still associate them by payload type.
	body := "v=0\r\n" +
		"o=bob 1 1 IN IP4 10.0.0.5\r\n" +
		"s=-\r\n" +
		"c=IN IP4 10.0.0.5\r\n" +
		"t=0 0\r\n" +
		"m=audio 4000 RTP/AVP 18\r\n" +
		"a=fmtp:18 annexb=no\r\n" +
		"a=rtpmap:18 G729/8000\r\n"

	sd, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	codec := sd.AudioMedia().CodecByPayloadType(18)
	if codec == nil {
		t.Fatal("expected payload type 18 to be present")
	}
	if codec.Name != "G729" || codec.Fmtp != "annexb=no" {
		t.Errorf("got codec %+v, want G729 with fmtp annexb=no", codec)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	sd, err := Parse([]byte(offerWithSRTP))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	out := sd.Marshal()
	reparsed, err := Parse(out)
	if err != nil {
		t.Fatalf("re-parsing marshaled sdp failed: %v", err)
	}
	if reparsed.Origin.Username != sd.Origin.Username {
		t.Error("origin lost in round trip")
	}
	if !strings.Contains(string(out), "crypto:1 AES_CM_128_HMAC_SHA1_80") {
		t.Error("expected marshaled output to retain the crypto line")
	}
}
