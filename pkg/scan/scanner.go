package scan

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"

	"indexmirror/pkg/utils"
)

// Match is one line-level hit: a downloaded file containing one of the
// search strings as a literal substring.
type Match struct {
	Path   string // Path of the file on local storage
	Line   int    // 1-based line number
	Text   string // The matching line, decoded
	Needle string // The search string that matched
}

// Scanner walks a downloaded tree and reports literal substring matches in
// text files. Binary files are skipped by content type; text is read as
// UTF-8 with a Latin-1 fallback for lines that do not decode.
type Scanner struct {
	// ExcludeNames lists base filenames skipped during the walk. The crawl
	// writes its own report files into the scanned tree; their contents
	// must not match against the search strings.
	ExcludeNames []string

	log *logrus.Entry
}

// NewScanner creates a Scanner.
func NewScanner(log *logrus.Entry) *Scanner {
	return &Scanner{log: log}
}

// Scan walks the tree rooted at root and returns every match for needles.
// Per-file read errors are logged and skipped; only a failure to walk the
// tree itself is returned as an error.
func (s *Scanner) Scan(root string, needles []string) ([]Match, error) {
	if len(needles) == 0 {
		return nil, nil
	}

	var matches []Match
	scanned, skipped := 0, 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if slices.Contains(s.ExcludeNames, d.Name()) {
			s.log.Debugf("Skipping excluded file: %s", path)
			skipped++
			return nil
		}

		binary, err := s.isBinary(path)
		if err != nil {
			s.log.WithField("path", path).Warnf("Cannot inspect file, skipping: %v", err)
			skipped++
			return nil
		}
		if binary {
			s.log.Debugf("Skipping binary file: %s", path)
			skipped++
			return nil
		}

		fileMatches, err := s.scanFile(path, needles)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"path":       path,
				"error_type": utils.CategorizeError(err),
			}).Errorf("Cannot read file, skipping: %v", err)
			skipped++
			return nil
		}
		scanned++
		matches = append(matches, fileMatches...)
		return nil
	})
	if err != nil {
		return matches, fmt.Errorf("walking %s: %w", root, err)
	}

	s.log.WithFields(logrus.Fields{
		"scanned": scanned,
		"skipped": skipped,
		"matches": len(matches),
	}).Info("Scan complete")
	return matches, nil
}

// isBinary infers the file's content type, by extension first and by
// sniffing the first 512 bytes when the extension is unknown.
func (s *Scanner) isBinary(path string) (bool, error) {
	if contentType := mime.TypeByExtension(filepath.Ext(path)); contentType != "" {
		return !isTextualType(contentType), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := file.Read(head)
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	return !isTextualType(http.DetectContentType(head[:n])), nil
}

// isTextualType reports whether a MIME type is worth scanning for text.
func isTextualType(contentType string) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	switch contentType {
	case "application/json", "application/xml", "application/javascript",
		"application/x-sh", "application/xhtml+xml":
		return true
	}
	return false
}

// scanFile reads one file line by line and collects substring matches.
// Lines that are not valid UTF-8 fall back to a Latin-1 decode.
func (s *Scanner) scanFile(path string, needles []string) ([]Match, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	defer file.Close()

	var matches []Match
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line, err := decodeLine(scanner.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", utils.ErrDecode, lineNo, err)
		}
		for _, needle := range needles {
			if strings.Contains(line, needle) {
				s.log.Infof("Match in %s:%d: %s", path, lineNo, line)
				matches = append(matches, Match{Path: path, Line: lineNo, Text: line, Needle: needle})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrDecode, err)
	}
	return matches, nil
}

// decodeLine returns the line as UTF-8, decoding from Latin-1 when the raw
// bytes are not valid UTF-8.
func decodeLine(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
