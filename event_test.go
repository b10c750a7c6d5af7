package apsta

import "testing"

func TestParsePeerID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "aa:bb:cc:dd:ee:01", want: "AA:BB:CC:DD:EE:01"},
		{in: " aa-bb-cc-dd-ee-02 ", want: "AA:BB:CC:DD:EE:02"},
		{in: "aa:bb", want: "AA:BB"},
		{in: "", wantErr: true},
		{in: "aa:b", wantErr: true},
		{in: "zz:bb", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePeerID(tt.in, 7)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePeerID(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePeerID(%q) error = %v", tt.in, err)
			continue
		}
		if got.MAC != tt.want || got.AID != 7 {
			t.Errorf("ParsePeerID(%q) = %+v, want MAC %s AID 7", tt.in, got, tt.want)
		}
	}
}
