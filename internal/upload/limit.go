package upload

import (
	"errors"
	"io"
)

// errBodyTooLarge is returned by limitReader once the body passes its limit.
var errBodyTooLarge = errors.New("upload: body exceeds size limit")

// limitReader passes through at most n bytes and fails with errBodyTooLarge
// if the source has more. Unlike io.LimitReader it reports the overflow
// instead of truncating.
type limitReader struct {
	r   io.Reader
	n   int64
	err error
}

func newLimitReader(r io.Reader, n int64) *limitReader {
	return &limitReader{r: r, n: n}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	// Ask for one byte more than allowed so an overflow is seen on the
	// read that causes it.
	if int64(len(p)) > l.n+1 {
		p = p[:l.n+1]
	}
	n, err := l.r.Read(p)
	if int64(n) > l.n {
		n = int(l.n)
		l.n = 0
		l.err = errBodyTooLarge
		return n, l.err
	}
	l.n -= int64(n)
	return n, err
}
