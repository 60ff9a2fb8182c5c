package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

const maxNameRunes = 100

// MakeUniqueKey builds a collision-resistant object key namespaced by folder and
// user. The original filename is sanitized so it can never escape the prefix.
func MakeUniqueKey(userID, originalName, folder string, now time.Time) string {
	folder = sanitizeSegment(folder)
	if folder == "" {
		folder = "uploads"
	}
	owner := sanitizeSegment(userID)
	if owner == "" {
		owner = "anonymous"
	}
	now = now.UTC()
	return path.Join(
		folder,
		owner,
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", int(now.Month())),
		fmt.Sprintf("%d-%s-%s", now.UnixNano(), randomSuffix(), SanitizeFilename(originalName)),
	)
}

// SanitizeFilename lowercases name and keeps only [a-z0-9._-], without leading dots.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	lastUnderscore := false
	count := 0
	for _, r := range strings.ToLower(name) {
		if count >= maxNameRunes {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if lastUnderscore {
				continue
			}
			b.WriteRune('_')
			lastUnderscore = true
		}
		count++
	}
	cleaned := strings.TrimLeft(b.String(), "._")
	cleaned = strings.TrimRight(cleaned, "_")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

func sanitizeSegment(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(buf)
}
