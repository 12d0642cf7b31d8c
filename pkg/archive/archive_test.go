package archive

import (
	"testing"

	"github.com/kurabooks/kura/internal/testgen"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPages(t *testing.T) {
	dir := t.TempDir()
	path := testgen.GenerateArchive(t, dir, "gallery.zip", 3)

	pages, err := ListPages(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"001.png", "002.png", "003.png"}, pages)
}

func TestPageCountCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	path := testgen.GenerateCorruptArchive(t, dir, "broken.zip")

	_, err := PageCount(path)
	assert.Error(t, err)
}

func TestReadPage(t *testing.T) {
	dir := t.TempDir()
	path := testgen.GenerateArchive(t, dir, "gallery.zip", 2)

	data, mimeType, err := ReadPage(path, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Equal(t, "image/png", mimeType)
}

func TestReadPageOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := testgen.GenerateArchive(t, dir, "gallery.zip", 2)

	_, _, err := ReadPage(path, 2)
	assert.ErrorIs(t, err, errcodes.OutOfRange("Page index is out of range."))

	_, _, err = ReadPage(path, -1)
	assert.ErrorIs(t, err, errcodes.OutOfRange("Page index is out of range."))
}

func TestHasArchiveExtension(t *testing.T) {
	assert.True(t, HasArchiveExtension("foo.zip"))
	assert.True(t, HasArchiveExtension("foo.CBZ"))
	assert.False(t, HasArchiveExtension("foo.rar"))
	assert.False(t, HasArchiveExtension("foo.zip.part"))
}

func TestSniffZip(t *testing.T) {
	dir := t.TempDir()

	valid := testgen.GenerateArchive(t, dir, "ok.zip", 1)
	assert.NoError(t, SniffZip(valid))

	corrupt := testgen.GenerateCorruptArchive(t, dir, "bad.zip")
	assert.Error(t, SniffZip(corrupt))
}
