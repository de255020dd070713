package httplog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kjk/treewalk/u"
	"github.com/tidwall/pretty"
)

// DumpFile writes a human readable rendition of a log file to w.
// Compressed files (.br, .gz, .zstd) are decompressed transparently.
func DumpFile(path string, w io.Writer) error {
	f, err := u.OpenFileMaybeCompressed(path)
	if err != nil {
		return err
	}
	defer u.CloseNoError(f)
	fmt.Fprintf(w, "%s %s\n", path, u.FormatSize(u.FileSize(path)))
	r := bufio.NewReader(f)
	for {
		name, t, data, err := readNextRecord(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s\n", t.Format("2006-01-02 15:04:05"), name)
		_, err = w.Write(pretty.Pretty(data))
		if err != nil {
			return err
		}
	}
}

// readNextRecord reads one framed record, undoing log.MarshalRecord.
// Returns io.EOF at a clean end of input.
func readNextRecord(r *bufio.Reader) (string, time.Time, []byte, error) {
	var zero time.Time
	hdr, err := r.ReadString('\n')
	if err != nil {
		return "", zero, nil, err
	}
	hdr = strings.TrimSuffix(hdr, "\n")
	rest, ok := strings.CutPrefix(hdr, "--- ")
	if !ok {
		return "", zero, nil, fmt.Errorf("unexpected record header '%s'", hdr)
	}
	parts := strings.SplitN(rest, " ", 3)
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return "", zero, nil, fmt.Errorf("unexpected record header '%s'", hdr)
	}
	var t time.Time
	if len(parts) > 1 {
		ms, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return "", zero, nil, fmt.Errorf("unexpected record header '%s'", hdr)
		}
		t = time.UnixMilli(ms).UTC()
	}
	name := ""
	if len(parts) > 2 {
		name = parts[2]
	}
	data := make([]byte, size)
	_, err = io.ReadFull(r, data)
	if err != nil {
		return "", zero, nil, err
	}
	// data that didn't end with a newline was padded with one,
	// not counted in size
	if size > 0 && data[size-1] != '\n' {
		_, err = r.Discard(1)
		if err != nil {
			return "", zero, nil, err
		}
	}
	return name, t, data, nil
}
