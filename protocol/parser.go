package protocol

import (
	"io"
	"strconv"
)

// MaxBulkLength bounds the size of a single bulk string. It matches the
// default proto-max-bulk-len of the Redis server.
const MaxBulkLength = 512 * 1024 * 1024

// Reader is what ReadReply needs from its input. *bufio.Reader is the usual
// candidate.
type Reader interface {
	io.Reader
	io.ByteReader
}

// ReadReply reads exactly one reply from r, recursing into arrays.
//
// Errors from r are returned as they are. Data that isn't valid RESP yields
// a *DecodeError wrapping ErrBadType or ErrBadInt.
func ReadReply(r Reader) (Reply, error) {
	t, err := r.ReadByte()
	if err != nil {
		return Reply{}, err
	}

	switch ReplyType(t) {
	case ReplySimpleString:
		line, err := ReadLine(r, 0)
		if err != nil {
			return Reply{}, err
		}

		return Reply{Type: ReplySimpleString, Str: line}, nil

	case ReplyError:
		line, err := ReadLine(r, 0)
		if err != nil {
			return Reply{}, err
		}

		return Reply{Type: ReplyError, Str: line}, nil

	case ReplyInteger:
		i, err := readInt(r)
		if err != nil {
			return Reply{}, err
		}

		return Integer(i), nil

	case ReplyBulkString:
		length, err := readInt(r)
		if err != nil {
			return Reply{}, err
		}

		if length < 0 {
			return Nil(), nil
		}

		if length > MaxBulkLength {
			return Reply{}, &DecodeError{
				Err: ErrBadInt,
				Raw: []byte(strconv.FormatInt(length, 10)),
			}
		}

		// The payload plus its \r\n
		buf := make([]byte, length+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Reply{}, err
		}

		return BulkString(buf[:length]), nil

	case ReplyArray:
		count, err := readInt(r)
		if err != nil {
			return Reply{}, err
		}

		if count < 0 {
			count = 0
		}

		elements := make([]Reply, 0, minInt64(count, 1024))
		for ; count > 0; count-- {
			e, err := ReadReply(r)
			if err != nil {
				return Reply{}, err
			}

			elements = append(elements, e)
		}

		return Array(elements...), nil

	default:
		return Reply{}, &DecodeError{Err: ErrBadType, Raw: []byte{t}}
	}
}

// ReadLine reads up to the next \r and drops the byte that follows it, which
// ought to be a \n but isn't checked. The returned line excludes both.
func ReadLine(r io.ByteReader, hint int) ([]byte, error) {
	line := make([]byte, 0, hint)

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		if b == '\r' {
			if _, err := r.ReadByte(); err != nil {
				return nil, err
			}

			return line, nil
		}

		line = append(line, b)
	}
}

func readInt(r io.ByteReader) (int64, error) {
	// 21 bytes hold any int64 including its sign
	line, err := ReadLine(r, 21)
	if err != nil {
		return 0, err
	}

	i, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, &DecodeError{Err: ErrBadInt, Raw: line}
	}

	return i, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}
