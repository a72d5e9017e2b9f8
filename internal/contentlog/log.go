// Package contentlog defines the append-only, content-hashed log that backs
// the version store, plus an in-process implementation.
package contentlog

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Content when the ref is unknown for the slot.
var ErrNotFound = errors.New("content log entry not found")

const hashTrailer = "Content-SHA256: "

// Entry is one accepted submission. Ref is backend specific (a git commit
// hash, a row sequence); ContentHash always is the hex sha256 of the content.
type Entry struct {
	Ref         string    `json:"ref"`
	Seq         int       `json:"seq"`
	ContentHash string    `json:"content_hash"`
	Message     string    `json:"message"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
}

// Log is the minimal append-only content log: initialize-if-absent happens
// on first Append, Entries lists oldest first.
//
// Append records content as the slot's newest entry unless the current head
// already holds identical content; then it returns the head and false. The
// head check and the write are one atomic step for every process sharing the
// backend.
type Log interface {
	Append(ctx context.Context, slot string, content []byte, message string) (Entry, bool, error)
	Entries(ctx context.Context, slot string) ([]Entry, error)
	Content(ctx context.Context, slot, ref string) ([]byte, error)
	Reset(ctx context.Context, slot string) error
	Ping(ctx context.Context) error
}

func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Message builds the commit-style message for a submission:
// "Updated <slot>.md: <date>" followed by a content hash trailer.
func Message(slot string, when time.Time, content []byte) string {
	return fmt.Sprintf("Updated %s: %s\n\n%s%s\n", FileName(slot), when.Format(time.UnixDate), hashTrailer, ContentHash(content))
}

// FileName is the path a slot's canonical text is tracked under.
func FileName(slot string) string {
	return slot + ".md"
}

// HashFromMessage returns the content hash trailer of a message, if present.
func HashFromMessage(message string) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(message))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, hashTrailer) {
			return strings.TrimSpace(strings.TrimPrefix(line, hashTrailer)), true
		}
	}
	return "", false
}

// Subject is the first line of a message.
func Subject(message string) string {
	subject, _, _ := strings.Cut(message, "\n")
	return strings.TrimSpace(subject)
}
