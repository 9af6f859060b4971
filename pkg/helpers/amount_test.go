package helpers

import "testing"

func TestSatoshiToBTC(t *testing.T) {
	tests := []struct {
		sat  uint64
		want string
	}{
		{100_000_000, "1"},
		{150_000_000, "1.5"},
		{1, "0.00000001"},
		{99_999_000, "0.99999"},
		{0, "0"},
		{250_000_000_000, "2500"},
	}
	for _, tt := range tests {
		if got := SatoshiToBTC(tt.sat); got != tt.want {
			t.Errorf("SatoshiToBTC(%d) = %q, want %q", tt.sat, got, tt.want)
		}
	}
}

func TestBTCToSatoshi(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"1", 100_000_000, false},
		{"1.5", 150_000_000, false},
		{"0.00000001", 1, false},
		{"2500", 250_000_000_000, false},
		{"", 0, true},
		{"1.000000001", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := BTCToSatoshi(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("BTCToSatoshi(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("BTCToSatoshi(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRoundtrip(t *testing.T) {
	for _, sat := range []uint64{1, 546, 100_000_000, 2_100_000_000_000_000} {
		got, err := BTCToSatoshi(SatoshiToBTC(sat))
		if err != nil || got != sat {
			t.Errorf("roundtrip(%d) = %d, %v", sat, got, err)
		}
	}
}
