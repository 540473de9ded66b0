package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "
)

// WriteMirrorTree walks the mirrored download directory and writes a
// text-based tree of what was fetched to outputFilePath.
func WriteMirrorTree(targetDir, outputFilePath string, log *logrus.Entry) error {
	if _, err := os.Stat(targetDir); err != nil {
		return fmt.Errorf("target directory '%s': %w", targetDir, err)
	}

	file, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: create tree file '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	if _, err := fmt.Fprintf(writer, "Mirror of: %s\n\n%s/\n", targetDir, filepath.Base(targetDir)); err != nil {
		return err
	}

	if err := walkTree(writer, targetDir, "", log); err != nil {
		log.Errorf("Tree walk failed for '%s': %v", targetDir, err)
		return err
	}
	return nil
}

// walkTree recursively writes one directory level with box-drawing prefixes.
func walkTree(writer io.Writer, dirPath, indent string, log *logrus.Entry) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		log.Warnf("Failed to read directory '%s': %v", dirPath, err)
		return fmt.Errorf("read directory '%s': %w", dirPath, err)
	}

	// Directories first, then case-insensitive by name
	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	for i, entry := range entries {
		isLast := i == len(entries)-1
		connector := entryPrefix
		childIndent := indent + verticalLine
		if isLast {
			connector = lastEntryPrefix
			childIndent = indent + indentPrefix
		}

		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		if _, err := fmt.Fprintf(writer, "%s%s%s\n", indent, connector, name); err != nil {
			return err
		}

		if entry.IsDir() {
			if err := walkTree(writer, filepath.Join(dirPath, entry.Name()), childIndent, log); err != nil {
				return err
			}
		}
	}
	return nil
}
