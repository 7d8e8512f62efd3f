package channel

import "testing"

func TestChecksum_EmptyFrame(t *testing.T) {
	if got := checksum(nil); got != 0 {
		t.Fatalf("checksum(nil) = %02x, want 00", got)
	}
}

func TestChecksum_XorsAllBytes(t *testing.T) {
	got := checksum([]byte{0x01, 0x02, 0x03})
	want := byte(0x01 ^ 0x02 ^ 0x03)
	if got != want {
		t.Fatalf("checksum = %02x, want %02x", got, want)
	}
}

func TestIsTimeout_NonTimeoutError(t *testing.T) {
	if isTimeout(errBusyNAK) {
		t.Fatalf("errBusyNAK should not report Timeout()")
	}
}
