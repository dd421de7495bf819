package recording

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/facecam/internal/session"
)

// Artifact is one finalized recording. Immutable once created.
type Artifact struct {
	ID        string    `json:"id"`
	MIME      string    `json:"mime"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the session-state reference to the artifact.
func (a *Artifact) Ref() *session.ArtifactRef {
	if a == nil {
		return nil
	}
	return &session.ArtifactRef{ID: a.ID, MIME: a.MIME, Size: len(a.Data), CreatedAt: a.CreatedAt}
}

// Download is an artifact prepared for saving to a file.
type Download struct {
	Filename string
	MIME     string
	Data     []byte
}

const timestampLayout = "20060102-150405.000"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename builds "<prefix>-<YYYYMMDD-HHMMSS.mmm>.<ext>" from the artifact
// creation time. The prefix is folded to ASCII.
func Filename(prefix string, createdAt time.Time, ext string) string {
	prefix = sanitizePrefix(prefix)
	if prefix == "" {
		prefix = "recording"
	}
	name := prefix + "-" + createdAt.UTC().Format(timestampLayout)
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	return name
}

func sanitizePrefix(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, _ := transform.String(t, s)
	folded = unsafeFilenameChars.ReplaceAllString(folded, "-")
	return strings.Trim(folded, "-.")
}
