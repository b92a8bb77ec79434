package definitions

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/y0ug/depwner/internal/models"
)

const (
	// DefaultSignature labels rows whose feed carries no signature.
	DefaultSignature = "MalwareBazaar_Recent"

	timestampLayout = "2006-01-02 15:04:05"
	maxLineSize     = 1024 * 1024

	colHash      = "md5_hash"
	colFirstSeen = "first_seen_utc"
	colSignature = "signature"
)

// ErrNoHeader is returned for a feed with neither a header row nor data rows.
var ErrNoHeader = errors.New("feed has no header row")

// knownColumns are the names that mark a comment line as the header of a
// MalwareBazaar export.
var knownColumns = map[string]struct{}{
	colHash:       {},
	colFirstSeen:  {},
	colSignature:  {},
	"sha256_hash": {},
	"sha1_hash":   {},
	"file_name":   {},
}

// Feed is the outcome of parsing a definitions feed.
type Feed struct {
	Entries []models.SignatureEntry
	Rows    int
	Skipped int
}

type columns struct {
	hash, firstSeen, signature int
}

// Parse reads a delimited feed. Comment lines start with '#'; the header may
// itself be a comment line. A feed with no header whose first row is a bare
// hash is read as one hash per line.
func Parse(r io.Reader, now time.Time) (Feed, error) {
	var feed Feed
	var cols *columns
	var commentHeader []string
	importedAt := now.UTC().Format(timestampLayout)
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			if cols == nil {
				if fields, err := splitLine(strings.TrimLeft(line, "# ")); err == nil && isHeader(fields) {
					commentHeader = fields
				}
			}
			continue
		}

		fields, err := splitLine(line)
		if err != nil {
			feed.Rows++
			feed.Skipped++
			continue
		}

		if cols == nil {
			switch {
			case commentHeader != nil:
				c, err := locate(commentHeader)
				if err != nil {
					return Feed{}, err
				}
				cols = c
			case len(fields) == 1 && isMD5(fields[0]):
				cols = &columns{hash: 0, firstSeen: -1, signature: -1}
			default:
				c, err := locate(fields)
				if err != nil {
					return Feed{}, err
				}
				cols = c
				continue
			}
		}

		feed.Rows++
		entry, ok := cols.entry(fields, importedAt)
		if !ok {
			feed.Skipped++
			continue
		}
		if _, dup := seen[entry.Fingerprint]; dup {
			continue
		}
		seen[entry.Fingerprint] = struct{}{}
		feed.Entries = append(feed.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return Feed{}, fmt.Errorf("failed to read feed: %w", err)
	}
	if cols == nil {
		if commentHeader == nil {
			return Feed{}, ErrNoHeader
		}
		if _, err := locate(commentHeader); err != nil {
			return Feed{}, err
		}
	}
	return feed, nil
}

func splitLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	fields, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i, f := range fields {
		fields[i] = strings.Trim(strings.TrimSpace(f), `"`)
	}
	return fields, nil
}

func isHeader(fields []string) bool {
	for _, f := range fields {
		if _, ok := knownColumns[strings.ToLower(f)]; ok {
			return true
		}
	}
	return false
}

func locate(header []string) (*columns, error) {
	c := &columns{hash: -1, firstSeen: -1, signature: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case colHash:
			c.hash = i
		case colFirstSeen:
			c.firstSeen = i
		case colSignature:
			c.signature = i
		}
	}
	if c.hash < 0 {
		return nil, fmt.Errorf("feed header has no %s column", colHash)
	}
	return c, nil
}

func (c *columns) entry(fields []string, importedAt string) (models.SignatureEntry, bool) {
	if c.hash >= len(fields) {
		return models.SignatureEntry{}, false
	}
	hash := strings.ToLower(fields[c.hash])
	if !isMD5(hash) {
		return models.SignatureEntry{}, false
	}

	entry := models.SignatureEntry{
		Fingerprint: hash,
		FirstSeen:   importedAt,
		Signature:   DefaultSignature,
	}
	if c.firstSeen >= 0 && c.firstSeen < len(fields) && fields[c.firstSeen] != "" {
		entry.FirstSeen = fields[c.firstSeen]
	}
	if c.signature >= 0 && c.signature < len(fields) {
		if sig := fields[c.signature]; sig != "" && !strings.EqualFold(sig, "n/a") {
			entry.Signature = sig
		}
	}
	return entry, true
}

func isMD5(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
