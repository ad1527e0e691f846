package protocol

import (
	"io"
	"strconv"
)

var (
	Terminal = []byte("\r\n")
)

// AppendQuery appends the wire form of q to dst.
func AppendQuery(dst []byte, q Query) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(q)), 10)
	dst = append(dst, Terminal...)

	for _, arg := range q {
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(arg)), 10)
		dst = append(dst, Terminal...)
		dst = append(dst, arg...)
		dst = append(dst, Terminal...)
	}

	return dst
}

// EncodeQuery returns the wire form of q.
func EncodeQuery(q Query) []byte {
	size := 16
	for _, arg := range q {
		size += len(arg) + 16
	}

	return AppendQuery(make([]byte, 0, size), q)
}

// WriteQuery writes q to w. It does not flush buffered writers.
func WriteQuery(w io.Writer, q Query) error {
	_, err := w.Write(EncodeQuery(q))
	return err
}

// WriteQueries writes all of qs back to back.
func WriteQueries(w io.Writer, qs []Query) error {
	for _, q := range qs {
		if err := WriteQuery(w, q); err != nil {
			return err
		}
	}

	return nil
}
