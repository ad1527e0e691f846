package redistest

import (
	"strconv"

	"github.com/luma/lantern/protocol"
)

// AppendReply appends the wire form of r to dst, the way a server sends it.
func AppendReply(dst []byte, r protocol.Reply) []byte {
	switch r.Type {
	case protocol.ReplySimpleString, protocol.ReplyError:
		dst = append(dst, byte(r.Type))
		dst = append(dst, r.Str...)

	case protocol.ReplyInteger:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, r.Int, 10)

	case protocol.ReplyBulkString:
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(r.Str)), 10)
		dst = append(dst, protocol.Terminal...)
		dst = append(dst, r.Str...)

	case protocol.ReplyNil:
		dst = append(dst, "$-1"...)

	case protocol.ReplyArray:
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(r.Elements)), 10)
		dst = append(dst, protocol.Terminal...)

		for _, e := range r.Elements {
			dst = AppendReply(dst, e)
		}

		return dst
	}

	return append(dst, protocol.Terminal...)
}
