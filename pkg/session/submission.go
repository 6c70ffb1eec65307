package session

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Submission is the student source plus the optional fragments the
// harness wraps around it.
type Submission struct {
	// FileName is the chunk name used in tracebacks.
	FileName string
	Leading  string
	Student  string
	Trailing string
}

// Source joins the present parts with single newlines.
func (s Submission) Source() string {
	parts := make([]string, 0, 3)
	if s.Leading != "" {
		parts = append(parts, s.Leading)
	}
	parts = append(parts, s.Student)
	if s.Trailing != "" {
		parts = append(parts, s.Trailing)
	}
	return strings.Join(parts, "\n")
}

// Files names the submission parts on disk. Leading and Trailing may be
// empty or point at files that do not exist.
type Files struct {
	Leading  string
	Student  string
	Trailing string
}

func LoadSubmission(f Files) (Submission, error) {
	student, err := os.ReadFile(f.Student)
	if err != nil {
		return Submission{}, fmt.Errorf("read student file: %w", err)
	}
	sub := Submission{
		FileName: filepath.Base(f.Student),
		Student:  string(student),
	}
	if sub.Leading, err = readOptional(f.Leading); err != nil {
		return Submission{}, fmt.Errorf("read leading file: %w", err)
	}
	if sub.Trailing, err = readOptional(f.Trailing); err != nil {
		return Submission{}, fmt.Errorf("read trailing file: %w", err)
	}
	return sub, nil
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return string(b), err
}

// Fingerprint identifies a submission for the module scoped cache. Every
// part is length prefixed so moving text between parts changes the key.
func Fingerprint(s Submission) string {
	h := sha256.New()
	var n [8]byte
	for _, part := range []string{s.FileName, s.Leading, s.Student, s.Trailing} {
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
