package rangefinder

import "testing"

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Reading
		wantErr bool
	}{
		{"csv line", "R,120450,1037", Reading{UptimeMs: 120450, RangeCm: 103.7}, false},
		{"csv with whitespace", "  R,5,250  ", Reading{UptimeMs: 5, RangeCm: 25.0}, false},
		{"bare millimetres", "987", Reading{RangeCm: 98.7}, false},
		{"bare float", "987.5", Reading{RangeCm: 98.75}, false},
		{"zero range", "R,1,0", Reading{UptimeMs: 1, RangeCm: 0}, false},
		{"empty", "", Reading{}, true},
		{"garbage", "hello world", Reading{}, true},
		{"too few fields", "R,123", Reading{}, true},
		{"too many fields", "R,1,2,3", Reading{}, true},
		{"bad uptime", "R,abc,100", Reading{}, true},
		{"bad range", "R,1,xyz", Reading{}, true},
		{"negative range", "R,1,-50", Reading{}, true},
		{"negative bare", "-50", Reading{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got != tt.want {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}
