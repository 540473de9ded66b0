package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"indexmirror/pkg/models"
	"indexmirror/pkg/utils"
)

// badgerLogger feeds BadgerDB's internal logging into logrus. The embedded
// entry already carries badger.Logger's full method set.
type badgerLogger struct {
	*logrus.Entry
}

var _ badger.Logger = badgerLogger{}

const (
	downloadKeyPrefix = "dl:"          // Prefix for download entry keys in DB
	manifestDBDir     = "manifest_db"  // Subdirectory name within stateDir for Badger DB files
)

// BadgerManifest implements Manifest using BadgerDB. With an empty stateDir
// the database runs fully in memory, so nothing outlives the invocation;
// a configured stateDir leaves a browsable record of the crawl behind.
type BadgerManifest struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerManifest opens the manifest database. hostname scopes the on-disk
// directory so crawls of different servers do not share files.
func NewBadgerManifest(stateDir, hostname string, logger *logrus.Entry) (*BadgerManifest, error) {
	dbLog := badgerLogger{logger.WithField("component", "badgerdb")}

	var opts badger.Options
	if stateDir == "" {
		logger.Debug("No state dir configured, keeping manifest in memory")
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dbPath := filepath.Join(stateDir, utils.SanitizeFilename(hostname)+"_"+manifestDBDir)
		if err := os.MkdirAll(dbPath, 0755); err != nil {
			return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
		}
		logger.Infof("Opening download manifest at: %s", dbPath)
		opts = badger.DefaultOptions(dbPath)
	}
	opts = opts.WithLogger(dbLog).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open manifest database: %w", utils.ErrDatabase, err)
	}
	return &BadgerManifest{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (m *BadgerManifest) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := m.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		m.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// RecordDownload implements the Manifest interface
func (m *BadgerManifest) RecordDownload(normURL string, entry *models.DownloadEntry) error {
	if m.db == nil {
		return fmt.Errorf("%w: manifest not initialized", utils.ErrDatabase)
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: marshal entry for %s: %w", utils.ErrDatabase, normURL, err)
	}
	key := []byte(downloadKeyPrefix + normURL)
	err = m.dbUpdate(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("%w: record download %s: %w", utils.ErrDatabase, normURL, err)
	}
	return nil
}

// GetDownload implements the Manifest interface
func (m *BadgerManifest) GetDownload(normURL string) (*models.DownloadEntry, error) {
	if m.db == nil {
		return nil, fmt.Errorf("%w: manifest not initialized", utils.ErrDatabase)
	}
	var entry *models.DownloadEntry
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(downloadKeyPrefix + normURL))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var e models.DownloadEntry
			if err := json.Unmarshal(val, &e); err != nil {
				return err
			}
			entry = &e
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get download %s: %w", utils.ErrDatabase, normURL, err)
	}
	return entry, nil
}

// Counts implements the Manifest interface
func (m *BadgerManifest) Counts() (succeeded, failed, skipped int, err error) {
	err = m.forEachEntry(func(_ string, entry *models.DownloadEntry) error {
		switch models.DownloadStatus(entry.Status) {
		case models.DownloadStatusSuccess:
			succeeded++
		case models.DownloadStatusSkipped:
			skipped++
		default:
			failed++
		}
		return nil
	})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: counting entries: %w", utils.ErrDatabase, err)
	}
	return succeeded, failed, skipped, nil
}

// WriteReport implements the Manifest interface. Entries are sorted by URL
// for stable output.
func (m *BadgerManifest) WriteReport(filePath, crawlID string) error {
	type reportLine struct {
		url   string
		entry *models.DownloadEntry
	}
	var lines []reportLine
	err := m.forEachEntry(func(url string, entry *models.DownloadEntry) error {
		lines = append(lines, reportLine{url: url, entry: entry})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: reading entries for report: %w", utils.ErrDatabase, err)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].url < lines[j].url })

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("%w: create report file %s: %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	fmt.Fprintf(writer, "# indexmirror download manifest (crawl %s)\n", crawlID)
	for _, l := range lines {
		switch models.DownloadStatus(l.entry.Status) {
		case models.DownloadStatusSuccess:
			fmt.Fprintf(writer, "%s\t%s\t%s\t%d bytes\n", l.entry.Status, l.url, l.entry.LocalPath, l.entry.Bytes)
		default:
			fmt.Fprintf(writer, "%s\t%s\t%s\n", l.entry.Status, l.url, l.entry.ErrorType)
		}
	}
	m.log.Infof("Wrote download manifest report (%d entries) to %s", len(lines), filePath)
	return nil
}

// forEachEntry iterates all download entries, decoding each value.
func (m *BadgerManifest) forEachEntry(fn func(url string, entry *models.DownloadEntry) error) error {
	if m.db == nil {
		return errors.New("manifest not initialized")
	}
	prefix := []byte(downloadKeyPrefix)
	return m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			url := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				var e models.DownloadEntry
				if err := json.Unmarshal(val, &e); err != nil {
					m.log.Warnf("Skipping undecodable manifest entry for %s: %v", url, err)
					return nil
				}
				return fn(url, &e)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements the Manifest interface
func (m *BadgerManifest) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
