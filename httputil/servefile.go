package httputil

import (
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/kjk/treewalk/u"
)

var (
	serveFileMu sync.Mutex
)

type FileServeOpts struct {
	Dir              string
	SupportCleanURLS bool
	ServeCompressed  bool
}

// TryServeFile serves the file under opts.Dir that r.URL.Path maps to.
// Returns false if there's no such file.
func TryServeFile(w http.ResponseWriter, r *http.Request, opts *FileServeOpts) bool {
	// rooted Clean so that ".." can't escape opts.Dir
	uriPath := path.Clean("/" + r.URL.Path)
	if uriPath == "/" {
		uriPath = "/index.html"
	}
	fsPath := filepath.Join(opts.Dir, filepath.FromSlash(uriPath))
	if u.DirExists(fsPath) {
		fsPath = filepath.Join(fsPath, "index.html")
	}
	if !u.FileExists(fsPath) && opts.SupportCleanURLS {
		fsPath = fsPath + ".html"
	}
	if !u.FileExists(fsPath) {
		return false
	}

	if opts.ServeCompressed && canServeCompressed(fsPath) {
		if serveFileMaybeBr(w, r, fsPath) {
			return true
		}
		// TODO: maybe add serveFileMaybeGz
		// but then again modern browsers probably support br
	}
	serveFile(w, r, fsPath)
	return true
}

func canServeCompressed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".html", ".txt", ".css", ".js", ".xml", ".svg", ".json":
		return true
	}
	return false
}

func serveFile(w http.ResponseWriter, r *http.Request, path string) {
	ct := u.MimeTypeFromFileName(path)
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	// not http.ServeFile() because it redirects "/index.html" to "./"
	http.ServeContent(w, r, path, st.ModTime(), f)
}

func serveFileMaybeBr(w http.ResponseWriter, r *http.Request, path string) bool {
	if r == nil {
		return false
	}
	enc := r.Header.Get("Accept-Encoding")
	if !strings.Contains(enc, "br") {
		return false
	}
	pathBr := path + ".br"
	if !u.FileExists(pathBr) {
		serveFileMu.Lock()
		err := compressBr(path, pathBr)
		serveFileMu.Unlock()
		if err != nil {
			return false
		}
	}
	f, err := os.Open(pathBr)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return false
	}
	ct := u.MimeTypeFromFileName(path)
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	// https://www.maxcdn.com/blog/accept-encoding-its-vary-important/
	// prevent caching non-gzipped version
	w.Header().Add("Vary", "Accept-Encoding")
	w.Header().Set("Content-Encoding", "br")
	http.ServeContent(w, r, path, st.ModTime(), f)
	return true
}

func compressBr(path string, pathBr string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dst, err := os.Create(pathBr)
	if err != nil {
		return err
	}
	w := brotli.NewWriterLevel(dst, brotli.BestCompression)
	_, err = io.Copy(w, f)
	err2 := w.Close()
	err3 := dst.Close()

	if err != nil || err2 != nil || err3 != nil {
		os.Remove(pathBr)
		if err != nil {
			return err
		}
		if err2 != nil {
			return err2
		}
		return err3
	}
	return nil
}
