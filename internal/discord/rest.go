package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SendMessage posts content to a channel and returns the new message
// id (used later for edits).
func (s *Session) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	b, err := s.rest(ctx, http.MethodPost, "/channels/"+channelID+"/messages", map[string]any{"content": content})
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	return out.ID, nil
}

// EditMessage replaces the content of a previously sent message.
func (s *Session) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	_, err := s.rest(ctx, http.MethodPatch, "/channels/"+channelID+"/messages/"+messageID, map[string]any{"content": content})
	return err
}

func (s *Session) rest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, s.apiBase+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+s.token)
	req.Header.Set("Content-Type", "application/json")
	res, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("discord api %s %s status %d: %s", method, path, res.StatusCode, string(body))
	}
	return body, nil
}
