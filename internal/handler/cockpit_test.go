package handler_test

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pairshot/internal/model"
)

func TestHandleImage(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, os.MkdirAll(filepath.Join(api.root, "gallery"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(api.root, "gallery", "wide.png"), pngBytes(t, 400, 200), 0o644))

	t.Run("thumbnail", func(t *testing.T) {
		rr := api.get(t, "/api/cockpit/image?src=/storage/gallery/wide.png&w=100&h=100", "")

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decode(t, rr)
		assert.EqualValues(t, 100, body["width"])
		assert.EqualValues(t, 50, body["height"])
		assert.True(t, strings.HasPrefix(body["path"].(string), "/storage/gallery/thumbs/"))
		assert.True(t, strings.HasPrefix(body["url"].(string), "http://api.test/storage/"))
	})

	t.Run("base64", func(t *testing.T) {
		rr := api.get(t, "/api/cockpit/image?src=gallery/wide.png&w=20&b64=1&desaturate=1", "")

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var data string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &data))
		assert.True(t, strings.HasPrefix(data, "data:image/jpeg;base64,"))
	})

	t.Run("filters with arguments", func(t *testing.T) {
		rr := api.get(t, "/api/cockpit/image?src=gallery/wide.png&w=40&blur=3&colorize=%23ff8800&edge+detect=1&sepia=0", "")

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		path := decode(t, rr)["path"].(string)
		assert.Contains(t, path, "_blur-3")
		assert.Contains(t, path, "_colorize-ff8800")
		assert.Contains(t, path, "_edgedetect")
		assert.NotContains(t, path, "sepia", "0 switches a filter off")
	})

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"bad filter argument", "src=gallery/wide.png&blur=lots", http.StatusPreconditionFailed},
		{"width not a number", "src=gallery/wide.png&w=wide", http.StatusPreconditionFailed},
		{"path traversal", "src=../../etc/passwd", http.StatusPreconditionFailed},
		{"missing src", "w=10", http.StatusPreconditionFailed},
		{"bad mode", "src=gallery/wide.png&m=crop", http.StatusPreconditionFailed},
		{"bad quality", "src=gallery/wide.png&q=101", http.StatusPreconditionFailed},
		{"missing file", "src=gallery/none.png", http.StatusPreconditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := api.get(t, "/api/cockpit/image?"+tt.query, "")
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode(t, rr)["error"])
		})
	}
}

func TestHandleAssets(t *testing.T) {
	api := newTestAPI(t)
	for _, title := range []string{"a", "b", "c"} {
		api.save(t, model.AssetsCollection, model.Document{"title": title, "mime": "image/png"})
	}

	rr := api.get(t, "/api/cockpit/assets?limit=2", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Len(t, body["assets"], 2)
	assert.EqualValues(t, 3, body["total"])

	rr = api.get(t, "/api/cockpit/assets?filter[title]=b", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body = decode(t, rr)
	assert.Len(t, body["assets"], 1)
	assert.EqualValues(t, 1, body["total"])
}
