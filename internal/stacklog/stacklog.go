// Package stacklog keeps the output of every salt command run for a stack.
// Each Put writes a timestamped copy plus a "latest" copy per log name.
package stacklog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Store reads and writes stack command logs.
type Store interface {
	Put(ctx context.Context, slug, name string, data []byte) error
	Latest(ctx context.Context, slug, name string) ([]byte, error)
}

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidName reports whether name can be used as a log or stack slug
// component without escaping its directory.
func ValidName(name string) bool {
	return validName.MatchString(name) && !strings.Contains(name, "..")
}

func checkNames(slug, name string) error {
	if !ValidName(slug) {
		return fmt.Errorf("invalid stack slug %q", slug)
	}
	if !ValidName(name) {
		return fmt.Errorf("invalid log name %q", name)
	}
	return nil
}

func stampedName(name string, at time.Time) string {
	return fmt.Sprintf("%s.%s.log", name, at.UTC().Format("20060102T150405.000Z"))
}

func latestName(name string) string {
	return name + ".latest.log"
}

// Open returns the store named by kind: "local" writes under dir, "s3"
// writes to the configured bucket.
func Open(kind, dir string, s3cfg S3Config) (Store, error) {
	switch kind {
	case "local":
		return NewLocal(dir), nil
	case "s3":
		return NewS3(NewS3Client(s3cfg), s3cfg.Bucket, s3cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown log store %q", kind)
	}
}
