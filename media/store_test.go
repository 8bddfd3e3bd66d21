package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenFrames points at a binary that does not exist, so video thumbnail
// extraction deterministically fails in tests.
func brokenFrames() *FrameExtractor {
	return NewFrameExtractor("reelkit-no-such-ffmpeg", time.Second)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "media"), brokenFrames())
	require.NoError(t, err)
	return s
}

// pngBytes renders a solid-color PNG of the given size.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSaveUploadSequentialNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Upload order is preserved in the on-disk sequence numbers.
	uploads := []struct {
		seq  int
		name string
	}{
		{1, "a.png"},
		{2, "b.mp4"},
		{3, "c.jpg"},
	}
	for _, up := range uploads {
		store := StoreFilename(up.seq, filepath.Ext(up.name))
		var body []byte
		if DetectKind(up.name) == KindImage {
			body = pngBytes(t, 8, 8)
		} else {
			body = []byte("not really a video")
		}
		meta, err := s.SaveUpload(ctx, store, up.name, bytes.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, up.name, meta.Name)
		assert.Equal(t, filepath.Join(s.Dir(), store), meta.Path)
		assert.FileExists(t, meta.Path)
	}

	names, err := filepath.Glob(filepath.Join(s.Dir(), "media_*"))
	require.NoError(t, err)
	require.Len(t, names, 3)
	assert.Equal(t, "media_0001.png", filepath.Base(names[0]))
	assert.Equal(t, "media_0002.mp4", filepath.Base(names[1]))
	assert.Equal(t, "media_0003.jpg", filepath.Base(names[2]))
}

func TestSaveUploadRejectsDuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveUpload(ctx, "media_0001.txt", "a.txt", strings.NewReader("x"))
	require.NoError(t, err)

	_, err = s.SaveUpload(ctx, "media_0001.txt", "b.txt", strings.NewReader("y"))
	assert.ErrorIs(t, err, ErrExists)
}

func TestSaveUploadImageThumbnail(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.SaveUpload(context.Background(), "media_0001.png", "photo.png",
		bytes.NewReader(pngBytes(t, 640, 480)))
	require.NoError(t, err)
	require.Equal(t, KindImage, meta.Kind)

	// Thumbnail lands in .thumbs/<id>.jpg, fits in the 320 box, and decodes.
	assert.Equal(t, filepath.Join(s.Dir(), ".thumbs", meta.ID+".jpg"), meta.ThumbPath)
	f, err := os.Open(meta.ThumbPath)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())
}

func TestSaveUploadCorruptImageFallsBackToOriginal(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.SaveUpload(context.Background(), "media_0001.png", "broken.png",
		strings.NewReader("this is not a png"))
	require.NoError(t, err)
	assert.Equal(t, meta.Path, meta.ThumbPath)
}

func TestSaveUploadVideoThumbnailFailureLeavesThumbEmpty(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.SaveUpload(context.Background(), "media_0001.mp4", "clip.mp4",
		strings.NewReader("fake video"))
	require.NoError(t, err)
	assert.Equal(t, KindVideo, meta.Kind)
	assert.Empty(t, meta.ThumbPath)
}

func TestSaveFromPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tmp := filepath.Join(t.TempDir(), "u1.part")
	require.NoError(t, os.WriteFile(tmp, []byte("assembled"), 0o644))

	meta, err := s.SaveFromPath(ctx, tmp, "media_0001.mp4", "clip.mp4")
	require.NoError(t, err)
	assert.NoFileExists(t, tmp)
	data, err := os.ReadFile(meta.Path)
	require.NoError(t, err)
	assert.Equal(t, "assembled", string(data))

	// Missing source and duplicate target are distinct failures.
	_, err = s.SaveFromPath(ctx, tmp, "media_0002.mp4", "clip.mp4")
	assert.ErrorIs(t, err, ErrSourceMissing)

	tmp2 := filepath.Join(t.TempDir(), "u2.part")
	require.NoError(t, os.WriteFile(tmp2, []byte("x"), 0o644))
	_, err = s.SaveFromPath(ctx, tmp2, "media_0001.mp4", "clip.mp4")
	assert.ErrorIs(t, err, ErrExists)
}

func TestDeleteFiles(t *testing.T) {
	s := newTestStore(t)

	meta, err := s.SaveUpload(context.Background(), "media_0001.png", "p.png",
		bytes.NewReader(pngBytes(t, 16, 16)))
	require.NoError(t, err)

	s.DeleteFiles(meta)
	assert.NoFileExists(t, meta.Path)
	assert.NoFileExists(t, meta.ThumbPath)
}

func TestDeleteFilesSkipsOutsideAndDirs(t *testing.T) {
	s := newTestStore(t)

	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	s.DeleteFiles(Meta{Path: outside, ThumbPath: s.Dir()})
	assert.FileExists(t, outside)
	assert.DirExists(t, s.Dir())
}
