package utils

import (
	"crypto/rand"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/unicode/norm"
)

type IUtils interface {
	NewULIDFromTimestamp(t time.Time) (string, error)
	AllowedImageExtension(filename string) (string, bool)
	SecureFilename(filename string) string
	UniqueFileName(base, ext string) (string, error)
}

var AllowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"bmp":  {},
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

type utils struct {
	mu      sync.Mutex
	entropy io.Reader
}

func New() IUtils {
	return &utils{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (u *utils) NewULIDFromTimestamp(t time.Time) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), u.entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// AllowedImageExtension reports the lower-cased extension of filename and
// whether it is one of the accepted image types.
func (u *utils) AllowedImageExtension(filename string) (string, bool) {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return "", false
	}

	ext := strings.ToLower(filename[idx+1:])
	_, ok := AllowedExtensions[ext]
	return ext, ok
}

// SecureFilename reduces filename to a flat ASCII name that is safe to join
// with a directory: no path separators, no whitespace, only [A-Za-z0-9_.-],
// no leading or trailing dots and underscores.
func (u *utils) SecureFilename(filename string) string {
	decomposed := norm.NFKD.String(filename)

	var b strings.Builder
	for _, r := range decomposed {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}

	name := b.String()
	name = strings.ReplaceAll(name, "/", " ")
	name = strings.ReplaceAll(name, "\\", " ")
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")

	return strings.Trim(name, "._")
}

// UniqueFileName appends a ULID to base. ULIDs sort by creation time and
// stay distinct within the same millisecond.
func (u *utils) UniqueFileName(base, ext string) (string, error) {
	id, err := u.NewULIDFromTimestamp(time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to generate file id: %w", err)
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return fmt.Sprintf("%s_%s%s", base, strings.ToLower(id), ext), nil
}

// AnnotatedPath returns the sibling path {stem}_annotated{ext} of path.
func AnnotatedPath(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(filepath.Dir(path), stem+"_annotated"+ext)
}
