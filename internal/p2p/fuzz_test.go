package p2p

import (
	"bytes"
	"encoding/json"
	"testing"
)

// FuzzHeartbeatUnmarshal tests that arbitrary JSON does not panic
// when unmarshaled into a HeartbeatMessage and verified.
func FuzzHeartbeatUnmarshal(f *testing.F) {
	f.Add([]byte(`{"pubkey":"00","peer_id":"x","tokens":100,"timestamp":1700000000,"signature":"00"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"pubkey":null,"tokens":0}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var msg HeartbeatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		VerifyHeartbeat(&msg)
	})
}

// FuzzAlertUnmarshal tests that arbitrary JSON does not panic when
// unmarshaled as a gossip alert.
func FuzzAlertUnmarshal(f *testing.F) {
	f.Add([]byte(`{"token_id":"0000000000000001","diverge_at":1}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"offender":"zz"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var msg AlertMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		VerifyAlert(&msg, msg.Verifier)
	})
}

// FuzzReadFrame checks the blob framing never over-allocates or panics.
func FuzzReadFrame(f *testing.F) {
	f.Add([]byte{3, 0, 0, 0, 'a', 'b', 'c'})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})
	f.Add([]byte{1, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		blob, err := readFrame(bytes.NewReader(data), 1024)
		if err != nil {
			return
		}
		if len(blob) > 1024 || len(blob) > len(data)-4 {
			t.Fatalf("frame of %d bytes from %d input bytes", len(blob), len(data))
		}
	})
}
