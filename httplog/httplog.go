package httplog

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kjk/treewalk/httputil"
	"github.com/kjk/treewalk/log"
	"github.com/kjk/treewalk/minioutil"
)

// Logger writes one record per http request to a daily log file
// httplog-2006-01-02.txt. On rotation the finished file is compressed
// with brotli and, if s3 storage is configured, uploaded.
type Logger struct {
	dir string
	app string
	mc  *minioutil.Client
	now func() time.Time

	mu           sync.Mutex
	file         *os.File
	path         string
	creationTime time.Time
	buf          bytes.Buffer
	jsonBuf      bytes.Buffer
}

// New creates a Logger writing to dir. app namespaces the remote path
// of uploaded files. mc can be nil to disable uploads.
func New(dir string, app string, mc *minioutil.Client) (*Logger, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(absDir, 0755)
	if err != nil {
		return nil, err
	}
	return &Logger{
		dir: absDir,
		app: app,
		mc:  mc,
		now: time.Now,
	}, nil
}

func isSameDay(t1, t2 time.Time) bool {
	return t1.YearDay() == t2.YearDay() && t1.Year() == t2.Year()
}

func (l *Logger) reopenIfNeeded(now time.Time) error {
	if l.file != nil && isSameDay(l.creationTime, now) {
		return nil
	}
	err := l.closeLocked(true)
	if err != nil {
		return err
	}
	path := filepath.Join(l.dir, "httplog-"+now.Format("2006-01-02")+".txt")
	// os.O_APPEND would be easier but Seek() doesn't work in that case
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, err = file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return err
	}
	l.file = file
	l.path = path
	l.creationTime = now
	return nil
}

func (l *Logger) closeLocked(didRotate bool) error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	path := l.path
	l.path = ""
	if err != nil {
		return err
	}
	if didRotate {
		go l.archive(path)
	}
	return nil
}

// Close closes the current log file without archiving it
// it's safe to call on nil receiver
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(false)
}

// Path returns the path of the current log file, "" if no request
// was logged yet today
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// LogReq logs a single request
// it's safe to call on nil receiver
func (l *Logger) LogReq(r *http.Request, code int, size int64, dur time.Duration) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	err := l.reopenIfNeeded(now)
	if err != nil {
		return err
	}

	rawQuery := r.URL.RawQuery
	if len(rawQuery) > 128 {
		rawQuery = rawQuery[:128]
	}
	entry := map[string]any{
		"ts":     now.Unix(),
		"method": r.Method,
		"url":    r.URL.Path,
		"query":  rawQuery,
		"host":   r.Host,
		"ip":     httputil.GetBestRemoteAddress(r),
		"code":   code,
		"size":   size,
		"dur":    float64(dur.Microseconds()) / 1000.0, // milliseconds with decimal precision
	}
	if referer := r.Header.Get("Referer"); referer != "" {
		entry["referer"] = referer
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		entry["ua"] = ua
	}
	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		entry["content_type"] = contentType
	}

	l.jsonBuf.Reset()
	enc := json.NewEncoder(&l.jsonBuf)
	// avoid unnecessary escaping
	enc.SetEscapeHTML(false)
	if err = enc.Encode(entry); err != nil {
		return err
	}

	// Encode adds a newline so the framing won't pad
	rec := log.MarshalRecord("req", now, l.jsonBuf.Bytes(), &l.buf)
	_, err = l.file.Write(rec)
	return err
}
