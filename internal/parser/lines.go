package parser

import (
	"bytes"
	"io"
	"os"
)

// ReadNewLines reads the complete lines appended to path since offset.
// If the file has shrunk below offset (truncation/rewrite), it restarts
// from 0. Only complete, newline-terminated lines are returned; any
// trailing partial line is left unread for the next call. newOffset
// advances by exactly the bytes consumed, including trailing newlines.
// A missing file is not an error: it returns (nil, 0, nil).
func ReadNewLines(path string, offset int64) (lines []string, newOffset int64, err error) {
	info, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return nil, 0, nil
	}
	if statErr != nil {
		return nil, 0, statErr
	}

	if info.Size() < offset {
		offset = 0
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, offset, err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, offset, err
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, err
	}

	consumed := int64(0)
	rest := data
	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(rest[:idx]))
		consumed += int64(idx) + 1
		rest = rest[idx+1:]
	}

	return lines, offset + consumed, nil
}
