package httplog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kjk/treewalk/log"
	"github.com/kjk/treewalk/u"
)

// archive compresses a rotated log file, uploads it if storage is
// configured and removes the uncompressed original. The .br file
// is kept locally.
func (l *Logger) archive(path string) {
	pathBr := path + ".br"
	if !u.PathExists(pathBr) {
		d, err := os.ReadFile(path)
		if log.IfErrf(err, "archive: failed to read '%s', err: %v\n", path, err) {
			return
		}
		dc, err := u.BrCompressDataBest(d)
		if log.IfErrf(err) {
			return
		}
		err = u.AtomicWriteFile(pathBr, dc)
		if log.IfErrf(err) {
			return
		}
		origSize := int64(len(d))
		comprSize := int64(len(dc))
		log.Logf("archive: compressed '%s' as '%s', %s => %s (%.2f%%)\n", path, pathBr, u.FormatSize(origSize), u.FormatSize(comprSize), u.Percent(origSize, comprSize))
	}
	err := os.Remove(path)
	log.IfErrf(err, "archive: failed to remove '%s', err: %v\n", path, err)

	if l.mc == nil {
		return
	}
	remotePath := RemotePathForLog(l.app, pathBr)
	if remotePath == "" {
		log.Errorf("archive: unexpected log file name '%s'\n", pathBr)
		return
	}
	if l.mc.Exists(remotePath) {
		return
	}
	_, err = l.mc.UploadFile(remotePath, pathBr, true)
	if log.IfErrf(err, "archive: failed to upload '%s', err: %v\n", remotePath, err) {
		return
	}
	log.Logf("archive: uploaded '%s'\n", l.mc.URLForPath(remotePath))
	log.Event("httplog_upload", "path", remotePath, "size", u.FileSize(pathBr))
}

// RemotePathForLog maps a local log file name to its remote path:
// <dir>/httplog-2021-10-06.txt.br
// =>
// apps/treewalk/httplog/2021/10/httplog-2021-10-06.txt.br
// returns "" if path is in unexpected format
func RemotePathForLog(app, path string) string {
	name := filepath.Base(path)
	s := strings.TrimPrefix(name, "httplog-")
	if s == name {
		return ""
	}
	// s: 2021-10-06.txt.br
	date, _, ok := strings.Cut(s, ".")
	if !ok {
		return ""
	}
	parts := strings.Split(date, "-")
	if len(parts) != 3 {
		return ""
	}
	year := parts[0]
	month := parts[1]
	if len(year) != 4 || len(month) != 2 {
		return ""
	}
	return fmt.Sprintf("apps/%s/httplog/%s/%s/%s", app, year, month, name)
}
