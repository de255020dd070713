package treestore

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/kjk/treewalk/u"
)

const fileName = "trees.csv"

var csvHeader = []string{"id", "lat", "lon", "species", "notes", "timestamp"}

// Row is a single observation, with values exactly as they
// appear in the CSV file
type Row struct {
	ID        string `json:"id"`
	Lat       string `json:"lat"`
	Lon       string `json:"lon"`
	Species   string `json:"species"`
	Notes     string `json:"notes"`
	Timestamp string `json:"timestamp"`
}

type Store struct {
	DataDir string
	// current time, can be replaced in tests
	Now func() time.Time

	filePath string
	mu       sync.RWMutex
	lastID   int64
}

// OpenStore initializes the store. It doesn't create the CSV file,
// that happens on first read or write. If the file already exists
// we scan it to recover the last used id.
func OpenStore(s *Store) error {
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	var err error
	s.DataDir, err = filepath.Abs(s.DataDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for data directory: %w", err)
	}
	s.filePath = filepath.Join(s.DataDir, fileName)
	if !u.FileExists(s.filePath) {
		return nil
	}
	rows, err := readRows(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", s.filePath, err)
	}
	for _, row := range rows {
		id, err := strconv.ParseInt(row.ID, 10, 64)
		if err != nil {
			// not written by us, doesn't count towards lastID
			continue
		}
		if id > s.lastID {
			s.lastID = id
		}
	}
	return nil
}

// Path returns the absolute path of the CSV file
func (s *Store) Path() string {
	return s.filePath
}

// EnsureInitialized creates the data directory and the CSV file
// with a header row. Does nothing if the file already exists.
func (s *Store) EnsureInitialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureFileLocked()
}

func (s *Store) ensureFileLocked() error {
	if u.FileExists(s.filePath) {
		return nil
	}
	err := os.MkdirAll(s.DataDir, 0755)
	if err != nil {
		return err
	}
	// O_EXCL so that two processes racing to create the file
	// can't both write the header
	file, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	w := csv.NewWriter(file)
	err = w.Write(csvHeader)
	if err != nil {
		file.Close()
		return err
	}
	w.Flush()
	err = w.Error()
	if err != nil {
		file.Close()
		return err
	}
	err = file.Sync()
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadAll returns all rows in file order. Creates the file first
// if it doesn't exist yet.
func (s *Store) ReadAll() ([]Row, error) {
	if !u.FileExists(s.filePath) {
		err := s.EnsureInitialized()
		if err != nil {
			return nil, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := readRows(s.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %w", s.filePath, err)
	}
	return rows, nil
}

// Append records an observation and returns its id. The id is the
// current time in unix milliseconds, bumped past the previous id
// when two appends land on the same millisecond or the clock goes
// backwards.
func (s *Store) Append(lat, lon float64, species, notes string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.ensureFileLocked()
	if err != nil {
		return 0, err
	}
	now := s.Now()
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	rec := []string{
		strconv.FormatInt(id, 10),
		strconv.FormatFloat(lat, 'g', -1, 64),
		strconv.FormatFloat(lon, 'g', -1, 64),
		species,
		notes,
		strconv.FormatInt(now.Unix(), 10),
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	err = w.Write(rec)
	if err != nil {
		return 0, err
	}
	w.Flush()
	err = w.Error()
	if err != nil {
		return 0, err
	}
	err = appendToFileRobust(s.filePath, buf.Bytes())
	if err != nil {
		return 0, err
	}
	s.lastID = id
	return id, nil
}

// open / write / sync / close on every append so that the row hits
// the disk even if the process is killed right after
func appendToFileRobust(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = file.Write(data)
	if err != nil {
		file.Close()
		return err
	}
	err = file.Sync()
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func readRows(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r := csv.NewReader(file)
	r.FieldsPerRecord = len(csvHeader)
	recs, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(recs))
	for i, rec := range recs {
		if i == 0 {
			// header
			continue
		}
		rows = append(rows, Row{
			ID:        rec[0],
			Lat:       rec[1],
			Lon:       rec[2],
			Species:   rec[3],
			Notes:     rec[4],
			Timestamp: rec[5],
		})
	}
	return rows, nil
}
