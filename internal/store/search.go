package store

import (
	"context"
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages finds messages whose content contains query, case
// insensitively for ASCII, newest first. roomID restricts the search when set.
func (s *Store) SearchMessages(ctx context.Context, query, roomID string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + selectColumns + ` FROM messages WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if roomID != "" {
		q += ` AND room_id = ?`
		args = append(args, roomID)
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	msgs, err := s.scanMessages(rows)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(msgs))
	for _, m := range msgs {
		results = append(results, SearchResult{Message: m, Snippet: snippet(m.Content, query)})
	}
	return results, nil
}

// snippet marks the first match with << >> and trims the content around it.
func snippet(content, query string) string {
	i := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if i < 0 || len(strings.ToLower(content)) != len(content) {
		return content
	}
	j := i + len(query)

	start, prefix := i-snippetRadius, "..."
	if start <= 0 {
		start, prefix = 0, ""
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	end, suffix := j+snippetRadius, "..."
	if end >= len(content) {
		end, suffix = len(content), ""
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	return prefix + content[start:i] + "<<" + content[i:j] + ">>" + content[j:end] + suffix
}
