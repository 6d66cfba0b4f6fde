package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReactionsRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
	}{
		{"empty", map[string]string{}},
		{"single", map[string]string{"u1": "👍"}},
		{"several", map[string]string{"u1": "👍", "u2": "❤️", "u3": "😂"}},
		{"separators in key", map[string]string{"a;b=c": "x"}},
		{"separators in value", map[string]string{"u1": "=;="}},
		{"escape chars", map[string]string{`back\slash`: `\`, `x\`: `\;\=`}},
		{"empty key and value", map[string]string{"": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeReactions(EncodeReactions(tt.in))
			if err != nil {
				t.Fatalf("DecodeReactions() error = %v", err)
			}
			if diff := cmp.Diff(tt.in, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeReactionsDeterministic(t *testing.T) {
	m := map[string]string{"b": "2", "a": "1", "c": "3"}
	want := "a=1;b=2;c=3"
	for range 10 {
		if got := EncodeReactions(m); got != want {
			t.Fatalf("EncodeReactions() = %q, want %q", got, want)
		}
	}
}

func TestDecodeReactionsMalformed(t *testing.T) {
	for _, in := range []string{"novalue", "a=1;b", `a=1\`, "a=b=c"} {
		if _, err := DecodeReactions(in); err == nil {
			t.Errorf("DecodeReactions(%q) expected error", in)
		}
	}
}

func TestParseLatLong(t *testing.T) {
	tests := []struct {
		in      string
		want    *LatLong
		wantErr bool
	}{
		{"-23.55,-46.63", &LatLong{Lat: -23.55, Long: -46.63}, false},
		{" 10 , 20 ", &LatLong{Lat: 10, Long: 20}, false},
		{"garbage", nil, true},
		{"1.0,abc", nil, true},
		{"91,0", nil, true},
		{"NaN,0", nil, true},
		{"", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLatLong(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLatLong(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseLatLong(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestLatLongStringRoundTrip(t *testing.T) {
	in := LatLong{Lat: 48.8584, Long: 2.2945}
	got, err := ParseLatLong(in.String())
	if err != nil {
		t.Fatal(err)
	}
	if *got != in {
		t.Errorf("got %+v, want %+v", *got, in)
	}
}

func TestTimestampCompare(t *testing.T) {
	a := Timestamp{Seconds: 10, Nanoseconds: 5}
	b := Timestamp{Seconds: 10, Nanoseconds: 6}
	c := Timestamp{Seconds: 11}
	if a.Compare(b) != -1 || b.Compare(a) != 1 || a.Compare(a) != 0 || b.Compare(c) != -1 {
		t.Error("Compare ordering is wrong")
	}
	if got := TimestampFromUnixNano(a.UnixNano()); got != a {
		t.Errorf("UnixNano round trip = %+v, want %+v", got, a)
	}
}
