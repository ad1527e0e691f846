package protocol

import (
	"strconv"
	"strings"
)

// Reply is a single decoded value from the server. Which of the fields is
// meaningful depends on Type.
type Reply struct {
	Type     ReplyType
	Str      []byte
	Int      int64
	Elements []Reply
}

func SimpleString(s string) Reply {
	return Reply{Type: ReplySimpleString, Str: []byte(s)}
}

func Error(msg string) Reply {
	return Reply{Type: ReplyError, Str: []byte(msg)}
}

func Integer(i int64) Reply {
	return Reply{Type: ReplyInteger, Int: i}
}

func BulkString(b []byte) Reply {
	return Reply{Type: ReplyBulkString, Str: b}
}

func Nil() Reply {
	return Reply{Type: ReplyNil}
}

func Array(elements ...Reply) Reply {
	if elements == nil {
		elements = []Reply{}
	}

	return Reply{Type: ReplyArray, Elements: elements}
}

// IsNil reports whether the reply is a nil bulk string.
func (r Reply) IsNil() bool {
	return r.Type == ReplyNil
}

// ErrorOrNil returns a ServerError if the server replied with an error.
// Otherwise it returns nil.
func (r Reply) ErrorOrNil() error {
	if r.Type == ReplyError {
		return &ServerError{Message: string(r.Str)}
	}

	return nil
}

// String renders the reply the way redis-cli does.
func (r Reply) String() string {
	var b strings.Builder
	r.format(&b, "")
	return b.String()
}

func (r Reply) format(b *strings.Builder, indent string) {
	switch r.Type {
	case ReplySimpleString:
		b.Write(r.Str)

	case ReplyError:
		b.WriteString("(error) ")
		b.Write(r.Str)

	case ReplyInteger:
		b.WriteString("(integer) ")
		b.WriteString(strconv.FormatInt(r.Int, 10))

	case ReplyBulkString:
		b.WriteString(strconv.Quote(string(r.Str)))

	case ReplyNil:
		b.WriteString("(nil)")

	case ReplyArray:
		if len(r.Elements) == 0 {
			b.WriteString("(empty array)")
			return
		}

		for i, e := range r.Elements {
			if i > 0 {
				b.WriteString("\n")
				b.WriteString(indent)
			}

			prefix := strconv.Itoa(i+1) + ") "
			b.WriteString(prefix)
			e.format(b, indent+strings.Repeat(" ", len(prefix)))
		}
	}
}
