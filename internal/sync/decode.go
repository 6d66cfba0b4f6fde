package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
	"github.com/master-rogerio/VCZapO-sub001/internal/roomcrypt"
)

// Remote document field names.
const (
	fieldContent        = "content"
	fieldEncryptionType = "encryptionType"
	fieldCreatedAt      = "createdAt"
	fieldSenderID       = "senderId"
	fieldSenderName     = "senderName"
	fieldType           = "type"
	fieldRead           = "read"
	fieldDelivered      = "delivered"
	fieldMediaRef       = "mediaRef"
	fieldDurationMs     = "durationMs"
	fieldLatLong        = "latLong"
	fieldReactions      = "reactions"
	fieldReplyToID      = "replyToId"

	fieldParticipants         = "participants"
	fieldLastMessage          = "lastMessage"
	fieldLastMessageTimestamp = "lastMessageTimestamp"
	fieldLastMessageSenderID  = "lastMessageSenderId"
	fieldPinnedMessageID      = "pinnedMessageId"
)

// Issues lists the fields Decode had to default. It is empty for a clean
// document.
type Issues []string

func (is *Issues) add(format string, args ...any) {
	*is = append(*is, fmt.Sprintf(format, args...))
}

// Decode maps a remote message document to a Message. Missing or mistyped
// fields default to their zero value and are reported in Issues. Content
// with an encryptionType is decrypted; on failure the raw content is kept
// and flagged.
func Decode(roomID string, doc Document, dec roomcrypt.Decrypter) (model.Message, Issues) {
	var issues Issues
	f := fields{m: doc.Fields, issues: &issues}

	m := model.Message{
		ID:         doc.ID,
		RoomID:     roomID,
		SenderID:   f.str(fieldSenderID),
		SenderName: f.str(fieldSenderName),
		Content:    f.str(fieldContent),
		CreatedAt:  f.timestamp(fieldCreatedAt),
		MediaRef:   f.str(fieldMediaRef),
		DurationMs: f.integer(fieldDurationMs),
		Read:       f.flag(fieldRead),
		Delivered:  f.flag(fieldDelivered),
		ReplyToID:  f.str(fieldReplyToID),
		Reactions:  f.reactions(fieldReactions),
		LatLong:    f.latLong(fieldLatLong),
	}

	typ, ok := model.ParseMessageType(f.str(fieldType))
	if !ok {
		if raw, present := doc.Fields[fieldType]; present {
			issues.add("type: unknown %v, using text", raw)
		}
	}
	m.Type = typ

	if raw, present := doc.Fields[fieldEncryptionType]; present && raw != nil {
		scheme, ok := asInt(raw)
		switch {
		case !ok:
			issues.add("encryptionType: not a number, content kept raw")
		case dec == nil:
			issues.add("encryptionType %d: no decrypter, content kept raw", scheme)
		default:
			plain, err := dec.Decrypt(roomID, roomcrypt.Scheme(scheme), m.Content)
			if err != nil {
				issues.add("content: decrypt failed, kept raw: %v", err)
			} else {
				m.Content = plain
			}
		}
	}
	return m, issues
}

// RoomDoc is a decoded room document before participant display data is
// resolved.
type RoomDoc struct {
	Summary model.RoomSummary
	OtherID string
}

// ErrNoOtherParticipant marks a room whose participants do not contain
// exactly one user besides the current one.
var ErrNoOtherParticipant = errors.New("room has no single other participant")

// DecodeRoom maps a remote room document for currentUserID.
func DecodeRoom(doc Document, currentUserID string) (RoomDoc, Issues, error) {
	var issues Issues
	f := fields{m: doc.Fields, issues: &issues}

	if doc.ID == "" {
		return RoomDoc{}, issues, errors.New("room document without id")
	}
	var others []string
	for _, p := range f.list(fieldParticipants) {
		if p != "" && p != currentUserID && !contains(others, p) {
			others = append(others, p)
		}
	}
	if len(others) != 1 {
		return RoomDoc{}, issues, fmt.Errorf("room %s: %w (found %d)", doc.ID, ErrNoOtherParticipant, len(others))
	}

	return RoomDoc{
		Summary: model.RoomSummary{
			RoomID:               doc.ID,
			LastMessage:          f.str(fieldLastMessage),
			LastMessageTimestamp: f.timestamp(fieldLastMessageTimestamp),
			LastMessageSenderID:  f.str(fieldLastMessageSenderID),
			OtherParticipant:     model.Participant{ID: others[0]},
			PinnedMessageID:      f.str(fieldPinnedMessageID),
		},
		OtherID: others[0],
	}, issues, nil
}

// DecodeProfile maps a remote profile document.
func DecodeProfile(userID string, fieldsMap map[string]any) (model.Profile, Issues) {
	var issues Issues
	f := fields{m: fieldsMap, issues: &issues}
	return model.Profile{
		UserID:      userID,
		Username:    f.str("username"),
		ProfileURL:  f.str("profileUrl"),
		DeviceToken: f.str("deviceToken"),
	}, issues
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// fields reads typed values out of a document, defaulting and recording
// anything missing-but-mistyped. Absent fields are not issues.
type fields struct {
	m      map[string]any
	issues *Issues
}

func (f fields) get(key string) (any, bool) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (f fields) str(key string) string {
	v, ok := f.get(key)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64, int, int64, json.Number, bool:
		return fmt.Sprint(s)
	}
	f.issues.add("%s: expected string, got %T", key, v)
	return ""
}

func (f fields) flag(key string) bool {
	v, ok := f.get(key)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	case float64:
		return b != 0
	}
	f.issues.add("%s: expected bool, got %T", key, v)
	return false
}

func (f fields) integer(key string) int64 {
	v, ok := f.get(key)
	if !ok {
		return 0
	}
	if n, ok := asInt(v); ok {
		return n
	}
	f.issues.add("%s: expected integer, got %T", key, v)
	return 0
}

func (f fields) list(key string) []string {
	v, ok := f.get(key)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				f.issues.add("%s: dropping non-string member %T", key, item)
			}
		}
		return out
	}
	f.issues.add("%s: expected array, got %T", key, v)
	return nil
}

func (f fields) reactions(key string) map[string]string {
	out := map[string]string{}
	v, ok := f.get(key)
	if !ok {
		return out
	}
	switch r := v.(type) {
	case map[string]any:
		for user, reaction := range r {
			if s, ok := reaction.(string); ok {
				out[user] = s
			} else {
				f.issues.add("%s.%s: expected string, got %T", key, user, reaction)
			}
		}
	case map[string]string:
		for user, reaction := range r {
			out[user] = reaction
		}
	case string:
		decoded, err := model.DecodeReactions(r)
		if err != nil {
			f.issues.add("%s: %v", key, err)
			return map[string]string{}
		}
		return decoded
	default:
		f.issues.add("%s: expected map, got %T", key, v)
	}
	return out
}

func (f fields) latLong(key string) *model.LatLong {
	v, ok := f.get(key)
	if !ok {
		return nil
	}
	switch ll := v.(type) {
	case string:
		if strings.TrimSpace(ll) == "" {
			return nil
		}
		parsed, err := model.ParseLatLong(ll)
		if err != nil {
			f.issues.add("%s: %v", key, err)
			return nil
		}
		return parsed
	case map[string]any:
		lat, okLat := asFloat(ll["lat"])
		long, okLong := asFloat(ll["long"])
		if okLat && okLong {
			if parsed, err := model.ParseLatLong(model.LatLong{Lat: lat, Long: long}.String()); err == nil {
				return parsed
			}
		}
	}
	f.issues.add("%s: unparsable %v", key, v)
	return nil
}

// timestamp accepts {seconds, nanoseconds} maps (with or without a leading
// underscore), unix milliseconds, and RFC 3339 strings.
func (f fields) timestamp(key string) model.Timestamp {
	v, ok := f.get(key)
	if !ok {
		return model.Timestamp{}
	}
	switch t := v.(type) {
	case map[string]any:
		secRaw, ok := t["seconds"]
		if !ok {
			secRaw = t["_seconds"]
		}
		nsRaw, ok := t["nanoseconds"]
		if !ok {
			nsRaw = t["_nanoseconds"]
		}
		sec, okSec := asInt(secRaw)
		ns, _ := asInt(nsRaw)
		if okSec && ns >= 0 && ns < 1e9 {
			return model.Timestamp{Seconds: sec, Nanoseconds: int32(ns)}
		}
	case model.Timestamp:
		return t
	case time.Time:
		return model.TimestampFromTime(t)
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return model.TimestampFromTime(parsed)
		}
	default:
		if ms, ok := asInt(t); ok {
			return model.TimestampFromTime(time.UnixMilli(ms))
		}
	}
	f.issues.add("%s: unparsable timestamp %v", key, v)
	return model.Timestamp{}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		fl, err := n.Float64()
		return fl, err == nil
	}
	return 0, false
}

// Encode maps a Message to the remote document fields Decode reads.
func Encode(m model.Message) map[string]any {
	reactions := make(map[string]any, len(m.Reactions))
	for user, r := range m.Reactions {
		reactions[user] = r
	}
	f := map[string]any{
		fieldContent:    m.Content,
		fieldCreatedAt:  map[string]any{"seconds": m.CreatedAt.Seconds, "nanoseconds": int64(m.CreatedAt.Nanoseconds)},
		fieldSenderID:   m.SenderID,
		fieldSenderName: m.SenderName,
		fieldType:       string(m.Type),
		fieldRead:       m.Read,
		fieldDelivered:  m.Delivered,
		fieldReactions:  reactions,
	}
	if m.MediaRef != "" {
		f[fieldMediaRef] = m.MediaRef
	}
	if m.DurationMs != 0 {
		f[fieldDurationMs] = m.DurationMs
	}
	if m.LatLong != nil {
		f[fieldLatLong] = m.LatLong.String()
	}
	if m.ReplyToID != "" {
		f[fieldReplyToID] = m.ReplyToID
	}
	return f
}

// SetEncrypted replaces the content field with ciphertext and records scheme.
func SetEncrypted(fields map[string]any, scheme roomcrypt.Scheme, ciphertext string) {
	fields[fieldContent] = ciphertext
	fields[fieldEncryptionType] = int64(scheme)
}
