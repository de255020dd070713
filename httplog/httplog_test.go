package httplog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjk/treewalk/u"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	l, err := New(t.TempDir(), "treewalk", nil)
	require.NoError(t, err)
	return l
}

func logTestReq(t *testing.T, l *Logger, uri string, code int) {
	r := httptest.NewRequest("GET", uri, nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("User-Agent", "test-agent")
	err := l.LogReq(r, code, 123, 5*time.Millisecond)
	require.NoError(t, err)
}

func TestLogReq(t *testing.T) {
	l := newTestLogger(t)
	require.Equal(t, "", l.Path())

	logTestReq(t, l, "/api/trees?limit=3", 200)
	path := l.Path()
	require.True(t, strings.HasPrefix(filepath.Base(path), "httplog-"))
	logTestReq(t, l, "/missing", 404)
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	br := bufio.NewReader(f)

	name, ts, data, err := readNextRecord(br)
	require.NoError(t, err)
	require.Equal(t, "req", name)
	require.False(t, ts.IsZero())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	require.Equal(t, "GET", entry["method"])
	require.Equal(t, "/api/trees", entry["url"])
	require.Equal(t, "limit=3", entry["query"])
	require.Equal(t, "10.0.0.1:1234", entry["ip"])
	require.Equal(t, float64(200), entry["code"])
	require.Equal(t, float64(123), entry["size"])
	require.Equal(t, "test-agent", entry["ua"])

	_, _, data, err = readNextRecord(br)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &entry))
	require.Equal(t, "/missing", entry["url"])
	require.Equal(t, float64(404), entry["code"])

	_, _, _, err = readNextRecord(br)
	require.Equal(t, io.EOF, err)
}

func TestNilLogger(t *testing.T) {
	var l *Logger
	r := httptest.NewRequest("GET", "/", nil)
	require.NoError(t, l.LogReq(r, 200, 0, 0))
	require.NoError(t, l.Close())
}

func TestRotation(t *testing.T) {
	l := newTestLogger(t)
	day1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day1 }
	logTestReq(t, l, "/a", 200)
	p1 := l.Path()
	require.Contains(t, p1, "2024-06-01")

	l.now = func() time.Time { return day1.Add(24 * time.Hour) }
	logTestReq(t, l, "/b", 200)
	p2 := l.Path()
	require.Contains(t, p2, "2024-06-02")

	// rotated file gets compressed in the background, original removed
	require.Eventually(t, func() bool {
		return u.FileExists(p1+".br") && !u.PathExists(p1)
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, l.Close())
}

func TestArchive(t *testing.T) {
	l := newTestLogger(t)
	path := filepath.Join(l.dir, "httplog-2024-06-01.txt")
	content := strings.Repeat("some log line\n", 50)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	l.archive(path)
	require.False(t, u.PathExists(path))
	require.True(t, u.FileExists(path+".br"))
	d, err := u.ReadFileMaybeCompressed(path + ".br")
	require.NoError(t, err)
	require.Equal(t, content, string(d))
}

func TestRemotePathForLog(t *testing.T) {
	tests := []struct {
		path string
		sExp string
	}{
		{
			path: "logs/httplog-2021-10-06.txt.br",
			sExp: "apps/treewalk/httplog/2021/10/httplog-2021-10-06.txt.br",
		},
		{
			path: "/abs/dir/httplog-2024-06-01.txt.br",
			sExp: "apps/treewalk/httplog/2024/06/httplog-2024-06-01.txt.br",
		},
		{
			path: "logs/other-2021-10-06.txt.br",
			sExp: "",
		},
		{
			path: "logs/httplog-garbage.txt.br",
			sExp: "",
		},
		{
			path: "logs/httplog-2021-10.txt.br",
			sExp: "",
		},
		{
			path: "logs/httplog-21-1-6.txt.br",
			sExp: "",
		},
	}
	for _, test := range tests {
		sGot := RemotePathForLog("treewalk", test.path)
		require.Equal(t, test.sExp, sGot)
	}
}

func TestDumpFile(t *testing.T) {
	l := newTestLogger(t)
	logTestReq(t, l, "/api/trees", 200)
	logTestReq(t, l, "/missing", 404)
	path := l.Path()
	require.NoError(t, l.Close())

	var buf bytes.Buffer
	require.NoError(t, DumpFile(path, &buf))
	s := buf.String()
	require.Contains(t, s, filepath.Base(path))
	require.Contains(t, s, `"method": "GET"`)
	require.Contains(t, s, `"url": "/api/trees"`)
	require.Contains(t, s, `"url": "/missing"`)

	// reading a brotli compressed copy gives the same records
	d, err := os.ReadFile(path)
	require.NoError(t, err)
	dc, err := u.BrCompressDataBest(d)
	require.NoError(t, err)
	pathBr := path + ".br"
	require.NoError(t, os.WriteFile(pathBr, dc, 0644))
	var buf2 bytes.Buffer
	require.NoError(t, DumpFile(pathBr, &buf2))
	require.Contains(t, buf2.String(), `"url": "/api/trees"`)
}
