package protocol

type Command string

const (
	AUTH   Command = "AUTH"
	SELECT Command = "SELECT"
	PING   Command = "PING"
	ECHO   Command = "ECHO"
	SET    Command = "SET"
	GET    Command = "GET"
	DEL    Command = "DEL"
	HSET   Command = "HSET"
	XADD   Command = "XADD"
)

type ReplyType byte

const (
	ReplySimpleString ReplyType = '+'
	ReplyError        ReplyType = '-'
	ReplyInteger      ReplyType = ':'
	ReplyBulkString   ReplyType = '$'
	ReplyArray        ReplyType = '*'

	// ReplyNil has no prefix of its own, it is a bulk string with a negative length.
	ReplyNil ReplyType = 0
)

func (t ReplyType) String() string {
	switch t {
	case ReplySimpleString:
		return "simple string"
	case ReplyError:
		return "error"
	case ReplyInteger:
		return "integer"
	case ReplyBulkString:
		return "bulk string"
	case ReplyArray:
		return "array"
	case ReplyNil:
		return "nil"
	default:
		return "unknown"
	}
}
