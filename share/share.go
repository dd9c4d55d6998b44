// Package share encodes the dashboard's channel and folder layout into a
// URL-safe token and decodes tokens back, including the older uncompressed
// and long-field formats.
package share

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/flate"

	"ytdash/model"
)

// QueryParam is the location query parameter carrying a token.
const QueryParam = "share"

// maxDecodedSize bounds decompression of untrusted tokens.
const maxDecodedSize = 4 << 20

// Payload is the shareable subset of the dashboard state. A nil slice means
// the token did not carry that field.
type Payload struct {
	Credential string
	Channels   []model.Channel
	Folders    []model.Folder
}

// DecodeError reports a token that could not be read. Callers log it and
// carry on as if no token was present.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("share: decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// compact is the token's JSON shape: folders as [id, name], channels as
// [id, folderId, title], and the credential only when no built-in one exists.
type compact struct {
	Folders    [][]string `json:"f"`
	Channels   [][]string `json:"c"`
	Credential string     `json:"k,omitempty"`
}

// legacy is the shape of tokens produced before the compact format.
type legacy struct {
	APIKey   string          `json:"apiKey"`
	Channels []legacyChannel `json:"channels"`
	Folders  []model.Folder  `json:"folders"`
}

type legacyChannel struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Handle            string `json:"handle"`
	Thumbnail         string `json:"thumbnail"`
	UploadsPlaylistID string `json:"uploadsPlaylistId"`
	FolderID          string `json:"folderId"`
	SubscriberCount   string `json:"subscriberCount"`
}

// Encode produces a token for p. The credential is embedded only when
// builtinCredential is empty, since a deployment with its own key must not
// leak it through links.
func Encode(p Payload, builtinCredential string) (string, error) {
	c := compact{
		Folders:  make([][]string, 0, len(p.Folders)),
		Channels: make([][]string, 0, len(p.Channels)),
	}
	for _, f := range p.Folders {
		c.Folders = append(c.Folders, []string{f.ID, f.Name})
	}
	for _, ch := range p.Channels {
		c.Channels = append(c.Channels, []string{ch.ID, ch.FolderID, ch.Title})
	}
	if builtinCredential == "" {
		c.Credential = p.Credential
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("share: encode: %w", err)
	}

	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("share: compress: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("share: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("share: compress: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reads a token in any supported format. Every failure is a
// *DecodeError.
func Decode(token string) (*Payload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &DecodeError{Stage: "token", Err: errors.New("empty token")}
	}

	raw, err := decompress(token)
	if err != nil {
		raw, err = plain(token)
		if err != nil {
			return nil, err
		}
	}
	return parse(raw)
}

// decompress handles the current format: raw DEFLATE under base64url.
func decompress(token string) ([]byte, error) {
	data, err := decodeBase64(token, base64.RawURLEncoding, base64.URLEncoding)
	if err != nil {
		return nil, &DecodeError{Stage: "base64", Err: err}
	}
	zr := flate.NewReader(bytes.NewReader(data))
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecodedSize))
	if err != nil {
		return nil, &DecodeError{Stage: "decompress", Err: err}
	}
	if !json.Valid(out) {
		return nil, &DecodeError{Stage: "decompress", Err: errors.New("not a JSON document")}
	}
	return out, nil
}

// plain handles the older format: base64 of the UTF-8 JSON document.
func plain(token string) ([]byte, error) {
	data, err := decodeBase64(token,
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding)
	if err != nil {
		return nil, &DecodeError{Stage: "base64", Err: err}
	}
	return data, nil
}

func decodeBase64(s string, encs ...*base64.Encoding) ([]byte, error) {
	var firstErr error
	for _, enc := range encs {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func parse(raw []byte) (*Payload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &DecodeError{Stage: "json", Err: err}
	}

	if isCompact(probe["c"]) {
		var c compact
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, &DecodeError{Stage: "json", Err: err}
		}
		return fromCompact(c)
	}

	var l legacy
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, &DecodeError{Stage: "json", Err: err}
	}
	return fromLegacy(l, probe), nil
}

// isCompact reports whether c is a JSON array (of arrays).
func isCompact(c json.RawMessage) bool {
	c = bytes.TrimSpace(c)
	return len(c) > 0 && c[0] == '['
}

func fromCompact(c compact) (*Payload, error) {
	p := &Payload{
		Credential: c.Credential,
		Channels:   make([]model.Channel, 0, len(c.Channels)),
	}
	if c.Folders != nil {
		p.Folders = make([]model.Folder, 0, len(c.Folders))
		for i, f := range c.Folders {
			if len(f) < 2 {
				return nil, &DecodeError{Stage: "folders", Err: fmt.Errorf("entry %d has %d fields", i, len(f))}
			}
			p.Folders = append(p.Folders, model.Folder{ID: f[0], Name: f[1]})
		}
	}
	for i, ch := range c.Channels {
		if len(ch) < 3 {
			return nil, &DecodeError{Stage: "channels", Err: fmt.Errorf("entry %d has %d fields", i, len(ch))}
		}
		p.Channels = append(p.Channels, model.Channel{
			ID:                ch[0],
			FolderID:          ch[1],
			Title:             ch[2],
			UploadsPlaylistID: UploadsPlaylistID(ch[0]),
		})
	}
	return p, nil
}

func fromLegacy(l legacy, present map[string]json.RawMessage) *Payload {
	p := &Payload{Credential: l.APIKey}
	if _, ok := present["channels"]; ok {
		p.Channels = make([]model.Channel, 0, len(l.Channels))
		for _, ch := range l.Channels {
			p.Channels = append(p.Channels, model.Channel{
				ID:                ch.ID,
				Title:             ch.Title,
				Handle:            ch.Handle,
				ThumbnailURL:      ch.Thumbnail,
				UploadsPlaylistID: ch.UploadsPlaylistID,
				FolderID:          ch.FolderID,
				SubscriberCount:   ch.SubscriberCount,
			})
		}
	}
	if _, ok := present["folders"]; ok {
		p.Folders = append([]model.Folder{}, l.Folders...)
	}
	return p
}

// UploadsPlaylistID derives a channel's uploads playlist from its ID
// ("UC..." becomes "UU..."); other IDs yield "".
func UploadsPlaylistID(channelID string) string {
	if !strings.HasPrefix(channelID, "UC") {
		return ""
	}
	return "UU" + channelID[2:]
}

// Link appends the token to baseURL as the share query parameter.
func Link(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("share: parse base url: %w", err)
	}
	q := u.Query()
	q.Set(QueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FromLocation extracts and decodes the share parameter of rawURL. It returns
// the location with the parameter removed whenever one was present, even if
// decoding failed, so the token is consumed once. ok is false when there was
// no parameter or it did not decode; err carries the decode failure.
func FromLocation(rawURL string) (p *Payload, stripped string, ok bool, err error) {
	u, perr := url.Parse(rawURL)
	if perr != nil {
		return nil, rawURL, false, &DecodeError{Stage: "location", Err: perr}
	}
	q := u.Query()
	token := q.Get(QueryParam)
	if !q.Has(QueryParam) {
		return nil, rawURL, false, nil
	}

	q.Del(QueryParam)
	u.RawQuery = q.Encode()
	stripped = u.String()

	p, err = Decode(token)
	if err != nil {
		return nil, stripped, false, err
	}
	return p, stripped, true, nil
}
