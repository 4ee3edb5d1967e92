package ingestion

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextPlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain content"), 0644))

	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "plain content", text)
}

func TestExtractTextHTML(t *testing.T) {
	html := `<html><head><script>var x = 1;</script></head>
<body><nav>menu</nav><p>visible   text</p><footer>foot</footer></body></html>`
	path := filepath.Join(t.TempDir(), "a.html")
	require.NoError(t, os.WriteFile(path, []byte(html), 0644))

	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "visible text", text)
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "menu")
}

func TestExtractTextDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.docx")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>first paragraph</w:t></w:r></w:p>
    <w:p><w:r><w:t>second</w:t></w:r><w:r><w:t> paragraph</w:t></w:r></w:p>
  </w:body>
</w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Contains(t, text, "first paragraph")
	assert.Contains(t, text, "second paragraph")
}

func TestExtractTextUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01}, 0644))

	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractTextMissingFile(t *testing.T) {
	_, err := ExtractText(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
