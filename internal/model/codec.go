package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Reaction maps are stored as a single column: entries "user=reaction"
// joined by ';'. Backslash escapes '\', '=' and ';' inside keys and values.
const (
	reactionPairSep  = ';'
	reactionKVSep    = '='
	reactionEscape   = '\\'
	latLongSeparator = ","
)

var errTrailingEscape = errors.New("trailing escape")

// EncodeReactions serializes a reaction map. Keys are written in sorted order
// so equal maps always encode to the same string.
func EncodeReactions(reactions map[string]string) string {
	if len(reactions) == 0 {
		return ""
	}
	keys := make([]string, 0, len(reactions))
	for k := range reactions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(reactionPairSep)
		}
		escapeInto(&b, k)
		b.WriteByte(reactionKVSep)
		escapeInto(&b, reactions[k])
	}
	return b.String()
}

func escapeInto(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == reactionEscape || c == reactionKVSep || c == reactionPairSep {
			b.WriteByte(reactionEscape)
		}
		b.WriteByte(c)
	}
}

// DecodeReactions parses a string produced by EncodeReactions. The empty
// string decodes to an empty map.
func DecodeReactions(s string) (map[string]string, error) {
	out := make(map[string]string)
	if s == "" {
		return out, nil
	}

	var (
		cur     strings.Builder
		key     string
		haveKey bool
	)
	flush := func() error {
		if !haveKey {
			return fmt.Errorf("entry %q has no %q", cur.String(), reactionKVSep)
		}
		out[key] = cur.String()
		cur.Reset()
		haveKey = false
		return nil
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case reactionEscape:
			i++
			if i >= len(s) {
				return nil, errTrailingEscape
			}
			cur.WriteByte(s[i])
		case reactionKVSep:
			if haveKey {
				return nil, fmt.Errorf("unescaped %q in value at offset %d", reactionKVSep, i)
			}
			key = cur.String()
			cur.Reset()
			haveKey = true
		case reactionPairSep:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteByte(c)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// LatLong is a geographic coordinate attached to location messages.
type LatLong struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// String encodes the coordinate as "lat,long".
func (l LatLong) String() string {
	return strconv.FormatFloat(l.Lat, 'f', -1, 64) + latLongSeparator + strconv.FormatFloat(l.Long, 'f', -1, 64)
}

// ParseLatLong parses the "lat,long" form written by LatLong.String.
func ParseLatLong(s string) (*LatLong, error) {
	latStr, longStr, ok := strings.Cut(strings.TrimSpace(s), latLongSeparator)
	if !ok {
		return nil, fmt.Errorf("lat/long %q: missing separator", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return nil, fmt.Errorf("lat/long %q: %w", s, err)
	}
	long, err := strconv.ParseFloat(strings.TrimSpace(longStr), 64)
	if err != nil {
		return nil, fmt.Errorf("lat/long %q: %w", s, err)
	}
	if math.IsNaN(lat) || math.IsNaN(long) || lat < -90 || lat > 90 || long < -180 || long > 180 {
		return nil, fmt.Errorf("lat/long %q: out of range", s)
	}
	return &LatLong{Lat: lat, Long: long}, nil
}
