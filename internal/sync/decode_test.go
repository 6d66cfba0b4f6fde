package sync

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
	"github.com/master-rogerio/VCZapO-sub001/internal/roomcrypt"
)

func TestDecodeFullDocument(t *testing.T) {
	doc := Document{ID: "m1", Fields: map[string]any{
		"content":    "hello",
		"createdAt":  map[string]any{"seconds": float64(1700000000), "nanoseconds": float64(5)},
		"senderId":   "bob",
		"senderName": "Bob",
		"type":       "location",
		"read":       true,
		"delivered":  true,
		"mediaRef":   "https://cdn.example/m.png",
		"durationMs": float64(1500),
		"latLong":    "-3.7,-38.5",
		"reactions":  map[string]any{"me": "👍"},
		"replyToId":  "m0",
	}}
	got, issues := Decode("r1", doc, nil)
	if len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}
	want := model.Message{
		ID:         "m1",
		RoomID:     "r1",
		SenderID:   "bob",
		SenderName: "Bob",
		Content:    "hello",
		CreatedAt:  model.Timestamp{Seconds: 1700000000, Nanoseconds: 5},
		Type:       model.TypeLocation,
		MediaRef:   "https://cdn.example/m.png",
		DurationMs: 1500,
		LatLong:    &model.LatLong{Lat: -3.7, Long: -38.5},
		Read:       true,
		Delivered:  true,
		Reactions:  map[string]string{"me": "👍"},
		ReplyToID:  "m0",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeDefaultsMissingAndMistypedFields(t *testing.T) {
	doc := Document{ID: "m2", Fields: map[string]any{
		"content":   []any{"not", "a", "string"},
		"createdAt": "yesterday",
		"type":      "hologram",
		"read":      "maybe",
		"latLong":   "somewhere",
		"reactions": float64(3),
	}}
	got, issues := Decode("r1", doc, nil)
	want := model.Message{
		ID:        "m2",
		RoomID:    "r1",
		Type:      model.TypeText,
		Reactions: map[string]string{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
	if len(issues) != 6 {
		t.Errorf("issues = %d %v, want 6", len(issues), issues)
	}

	empty, issues := Decode("r1", Document{ID: "m3"}, nil)
	if len(issues) != 0 {
		t.Errorf("absent fields reported as issues: %v", issues)
	}
	if empty.Type != model.TypeText || empty.Reactions == nil {
		t.Errorf("empty document decoded to %+v", empty)
	}
}

func TestDecodeTimestampForms(t *testing.T) {
	ref := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  any
		want model.Timestamp
	}{
		{"seconds map", map[string]any{"seconds": float64(ref.Unix())}, model.TimestampFromTime(ref)},
		{"underscore map", map[string]any{"_seconds": float64(ref.Unix()), "_nanoseconds": float64(0)}, model.TimestampFromTime(ref)},
		{"unix millis", float64(ref.UnixMilli()), model.TimestampFromTime(ref)},
		{"json number", json.Number("1740830400000"), model.TimestampFromTime(ref)},
		{"rfc3339", ref.Format(time.RFC3339Nano), model.TimestampFromTime(ref)},
		{"bad nanos", map[string]any{"seconds": float64(1), "nanoseconds": float64(2e9)}, model.Timestamp{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Decode("r", Document{ID: "x", Fields: map[string]any{"createdAt": tt.raw}}, nil)
			if got.CreatedAt != tt.want {
				t.Errorf("createdAt = %+v, want %+v", got.CreatedAt, tt.want)
			}
		})
	}
}

func TestDecodeEncryptedContent(t *testing.T) {
	key, err := roomcrypt.NewRoomKey("secret")
	if err != nil {
		t.Fatal(err)
	}
	ct, err := key.Encrypt("r1", "plain words")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		fields      map[string]any
		dec         roomcrypt.Decrypter
		wantContent string
		wantIssue   bool
	}{
		{"absent is plaintext", map[string]any{"content": "hi"}, key, "hi", false},
		{"null is plaintext", map[string]any{"content": "hi", "encryptionType": nil}, key, "hi", false},
		{"decrypts", map[string]any{"content": ct, "encryptionType": float64(1)}, key, "plain words", false},
		{"bad ciphertext falls back", map[string]any{"content": "garbage", "encryptionType": float64(1)}, key, "garbage", true},
		{"unknown scheme falls back", map[string]any{"content": ct, "encryptionType": float64(9)}, key, ct, true},
		{"no decrypter falls back", map[string]any{"content": ct, "encryptionType": float64(1)}, nil, ct, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, issues := Decode("r1", Document{ID: "m", Fields: tt.fields}, tt.dec)
			if got.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", got.Content, tt.wantContent)
			}
			if (len(issues) > 0) != tt.wantIssue {
				t.Errorf("issues = %v, wantIssue %v", issues, tt.wantIssue)
			}
		})
	}
}

func TestDecodeRoom(t *testing.T) {
	doc := Document{ID: "r1", Fields: map[string]any{
		"participants":         []any{"me", "bob"},
		"lastMessage":          "see you",
		"lastMessageTimestamp": map[string]any{"seconds": float64(100)},
		"lastMessageSenderId":  "bob",
		"pinnedMessageId":      "m7",
	}}
	got, issues, err := DecodeRoom(doc, "me")
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}
	want := RoomDoc{
		Summary: model.RoomSummary{
			RoomID:               "r1",
			LastMessage:          "see you",
			LastMessageTimestamp: model.Timestamp{Seconds: 100},
			LastMessageSenderID:  "bob",
			OtherParticipant:     model.Participant{ID: "bob"},
			PinnedMessageID:      "m7",
		},
		OtherID: "bob",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeRoom mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRoomInvariantViolations(t *testing.T) {
	tests := map[string]any{
		"only me":      []any{"me"},
		"empty":        []any{},
		"missing":      nil,
		"group":        []any{"me", "bob", "carol"},
		"not an array": "me,bob",
	}
	for name, participants := range tests {
		t.Run(name, func(t *testing.T) {
			fields := map[string]any{}
			if participants != nil {
				fields["participants"] = participants
			}
			_, _, err := DecodeRoom(Document{ID: "r", Fields: fields}, "me")
			if !errors.Is(err, ErrNoOtherParticipant) {
				t.Errorf("err = %v, want ErrNoOtherParticipant", err)
			}
		})
	}

	if _, _, err := DecodeRoom(Document{ID: "r", Fields: map[string]any{"participants": []any{"me", "bob", "bob"}}}, "me"); err != nil {
		t.Errorf("duplicate member should collapse: %v", err)
	}
}

func TestDecodeProfile(t *testing.T) {
	p, issues := DecodeProfile("bob", map[string]any{"username": "Bob", "profileUrl": "https://cdn/bob.png", "deviceToken": 7.0})
	if len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}
	want := model.Profile{UserID: "bob", Username: "Bob", ProfileURL: "https://cdn/bob.png", DeviceToken: "7"}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := model.Message{
		ID:         "m1",
		RoomID:     "r1",
		SenderID:   "me",
		SenderName: "Me",
		Content:    "hello; =world",
		CreatedAt:  model.Timestamp{Seconds: 1700000000, Nanoseconds: 42},
		Type:       model.TypeAudio,
		MediaRef:   "s3://media/a.ogg",
		DurationMs: 3000,
		Read:       true,
		Reactions:  map[string]string{"bob": "🔥"},
		ReplyToID:  "m0",
	}
	got, issues := Decode("r1", Document{ID: "m1", Fields: Encode(want)}, nil)
	if len(issues) != 0 {
		t.Errorf("issues = %v", issues)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}

	key, _ := roomcrypt.NewRoomKey("k")
	fields := Encode(want)
	ct, err := key.Encrypt("r1", want.Content)
	if err != nil {
		t.Fatal(err)
	}
	SetEncrypted(fields, roomcrypt.SchemeRoomKey, ct)
	dec, _ := Decode("r1", Document{ID: "m1", Fields: fields}, key)
	if dec.Content != want.Content {
		t.Errorf("encrypted round trip content = %q", dec.Content)
	}
}
