package media

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{10}$`), id)
	assert.NotEqual(t, id, NewID())
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"clip.mp4", "clip.mp4"},
		{"../../etc/passwd", "passwd"},
		{"/tmp/a.png", "a.png"},
		{"bad\x00name.jpg", "badname.jpg"},
		{"", "unnamed"},
		{"   ", "unnamed"},
		{".", "unnamed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name, kind string
	}{
		{"a.png", KindImage},
		{"a.JPG", KindImage},
		{"a.jpeg", KindImage},
		{"a.gif", KindImage},
		{"a.bmp", KindImage},
		{"a.webp", KindImage},
		{"b.mp4", KindVideo},
		{"b.MOV", KindVideo},
		{"b.avi", KindVideo},
		{"b.mkv", KindVideo},
		{"b.webm", KindVideo},
		{"c.txt", KindUnknown},
		{"noext", KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, DetectKind(tt.name), "input %q", tt.name)
	}
}

func TestStoreFilename(t *testing.T) {
	assert.Equal(t, "media_0001.png", StoreFilename(1, ".png"))
	assert.Equal(t, "media_0042.mp4", StoreFilename(42, ".mp4"))
	assert.Equal(t, "media_12345.mov", StoreFilename(12345, ".mov"))
}

func TestParseStoreSeq(t *testing.T) {
	seq, ok := ParseStoreSeq("media_0007.mp4")
	assert.True(t, ok)
	assert.Equal(t, 7, seq)

	seq, ok = ParseStoreSeq("/data/media/media_0123.png")
	assert.True(t, ok)
	assert.Equal(t, 123, seq)

	_, ok = ParseStoreSeq("clip.mp4")
	assert.False(t, ok)
	_, ok = ParseStoreSeq("")
	assert.False(t, ok)
}

func TestGuessMediaType(t *testing.T) {
	assert.Equal(t, "image/png", GuessMediaType("x.png"))
	assert.Equal(t, "video/mp4", GuessMediaType("x.mp4"))
	assert.Equal(t, "application/octet-stream", GuessMediaType("x.zzz"))
}

func TestIsUnderDir(t *testing.T) {
	root := t.TempDir()

	assert.True(t, IsUnderDir(filepath.Join(root, "a.png"), root))
	assert.True(t, IsUnderDir(filepath.Join(root, ".thumbs", "t.jpg"), root))
	assert.False(t, IsUnderDir(filepath.Join(root, "..", "escape.png"), root))
	assert.False(t, IsUnderDir("/etc/passwd", root))
	// A sibling whose name shares the root as a prefix is outside.
	assert.False(t, IsUnderDir(root+"2/a.png", root))
}

func TestIsUnderDirResolvesSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	// A link inside root to an outside file escapes on resolution.
	link := filepath.Join(root, "leak.txt")
	require.NoError(t, os.Symlink(target, link))
	assert.False(t, IsUnderDir(link, root))

	// Same for a linked directory.
	dirLink := filepath.Join(root, "sub")
	require.NoError(t, os.Symlink(outside, dirLink))
	assert.False(t, IsUnderDir(filepath.Join(dirLink, "secret.txt"), root))

	// A link pointing back inside root stays contained.
	real := filepath.Join(root, "real.txt")
	require.NoError(t, os.WriteFile(real, []byte("y"), 0o644))
	selfLink := filepath.Join(root, "alias.txt")
	require.NoError(t, os.Symlink(real, selfLink))
	assert.True(t, IsUnderDir(selfLink, root))
}
