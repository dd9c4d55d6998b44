package share

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytdash/model"
)

func samplePayload() Payload {
	return Payload{
		Credential: "AIza-user-key",
		Folders: []model.Folder{
			{ID: "f-1", Name: "Tech"},
			{ID: "f-2", Name: "Music"},
		},
		Channels: []model.Channel{
			{ID: "UCabcdefghijklmnopqrstuv", FolderID: "f-1", Title: "Alpha", ThumbnailURL: "https://img/a"},
			{ID: "UCzyxwvutsrqponmlkjihgfe", FolderID: "f-2", Title: "Beta & Co"},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	token, err := Encode(samplePayload(), "")
	require.NoError(t, err)
	assert.NotContains(t, token, "=")
	assert.Equal(t, url.QueryEscape(token), token, "token must be URL-safe")

	p, err := Decode(token)
	require.NoError(t, err)

	assert.Equal(t, "AIza-user-key", p.Credential)
	assert.Equal(t, samplePayload().Folders, p.Folders)
	require.Len(t, p.Channels, 2)
	assert.Equal(t, model.Channel{
		ID:                "UCabcdefghijklmnopqrstuv",
		FolderID:          "f-1",
		Title:             "Alpha",
		UploadsPlaylistID: "UUabcdefghijklmnopqrstuv",
	}, p.Channels[0])
	assert.Empty(t, p.Channels[0].ThumbnailURL)
	assert.Equal(t, "Beta & Co", p.Channels[1].Title)
}

func TestEncodeOmitsCredentialWithBuiltinKey(t *testing.T) {
	token, err := Encode(samplePayload(), "AIza-builtin")
	require.NoError(t, err)

	p, err := Decode(token)
	require.NoError(t, err)
	assert.Empty(t, p.Credential)
	assert.Len(t, p.Channels, 2)
}

func TestDecodePlainBase64Compact(t *testing.T) {
	doc := `{"f":[["f-1","Tech"]],"c":[["UCabcdefghijklmnopqrstuv","f-1","Alpha"]],"k":"key"}`

	for name, enc := range map[string]*base64.Encoding{
		"std":     base64.StdEncoding,
		"raw-std": base64.RawStdEncoding,
		"url":     base64.URLEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			p, err := Decode(enc.EncodeToString([]byte(doc)))
			require.NoError(t, err)
			assert.Equal(t, "key", p.Credential)
			require.Len(t, p.Channels, 1)
			assert.Equal(t, "UUabcdefghijklmnopqrstuv", p.Channels[0].UploadsPlaylistID)
		})
	}
}

func TestDecodeLegacyShape(t *testing.T) {
	doc := `{
		"apiKey": "legacy-key",
		"channels": [{
			"id": "UCabcdefghijklmnopqrstuv",
			"title": "Alpha",
			"handle": "@alpha",
			"thumbnail": "https://img/a",
			"uploadsPlaylistId": "UUcustom",
			"folderId": "f-1"
		}],
		"folders": [{"id": "f-1", "name": "Tech"}]
	}`
	p, err := Decode(base64.StdEncoding.EncodeToString([]byte(doc)))
	require.NoError(t, err)

	assert.Equal(t, "legacy-key", p.Credential)
	require.Len(t, p.Channels, 1)
	assert.Equal(t, model.Channel{
		ID:                "UCabcdefghijklmnopqrstuv",
		Title:             "Alpha",
		Handle:            "@alpha",
		ThumbnailURL:      "https://img/a",
		UploadsPlaylistID: "UUcustom",
		FolderID:          "f-1",
	}, p.Channels[0])
	assert.Equal(t, []model.Folder{{ID: "f-1", Name: "Tech"}}, p.Folders)
}

func TestDecodeLegacyMissingFieldsStayNil(t *testing.T) {
	p, err := Decode(base64.StdEncoding.EncodeToString([]byte(`{"apiKey":"k"}`)))
	require.NoError(t, err)
	assert.Nil(t, p.Channels)
	assert.Nil(t, p.Folders)
}

func TestDecodeCompactWithoutFolders(t *testing.T) {
	p, err := Decode(base64.StdEncoding.EncodeToString([]byte(`{"c":[["UCabcdefghijklmnopqrstuv","f-9","Alpha"]]}`)))
	require.NoError(t, err)
	assert.Nil(t, p.Folders)
	assert.Len(t, p.Channels, 1)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not base64", "%%%not-base64%%%"},
		{"base64 of non json", base64.StdEncoding.EncodeToString([]byte("hello world"))},
		{"json array", base64.StdEncoding.EncodeToString([]byte(`[1,2,3]`))},
		{"short channel entry", base64.StdEncoding.EncodeToString([]byte(`{"c":[["UCx"]]}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(tt.token)
			assert.Nil(t, p)
			var de *DecodeError
			assert.True(t, errors.As(err, &de), "want *DecodeError, got %T", err)
		})
	}
}

func TestUploadsPlaylistID(t *testing.T) {
	assert.Equal(t, "UU123", UploadsPlaylistID("UC123"))
	assert.Equal(t, "", UploadsPlaylistID("HC123"))
	assert.Equal(t, "", UploadsPlaylistID(""))
}

func TestLinkAndFromLocation(t *testing.T) {
	token, err := Encode(samplePayload(), "")
	require.NoError(t, err)

	link, err := Link("https://dash.example.com/app?tab=stats", token)
	require.NoError(t, err)
	assert.Contains(t, link, "share=")

	p, stripped, ok, err := FromLocation(link)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, p.Channels, 2)
	assert.Equal(t, "https://dash.example.com/app?tab=stats", stripped)
}

func TestFromLocationStripsUndecodableToken(t *testing.T) {
	p, stripped, ok, err := FromLocation("https://dash.example.com/?share=garbage!!")
	assert.Nil(t, p)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, "https://dash.example.com/", stripped)
	assert.False(t, strings.Contains(stripped, "share"))
}

func TestFromLocationWithoutToken(t *testing.T) {
	p, stripped, ok, err := FromLocation("https://dash.example.com/?tab=1")
	assert.NoError(t, err)
	assert.Nil(t, p)
	assert.False(t, ok)
	assert.Equal(t, "https://dash.example.com/?tab=1", stripped)
}
