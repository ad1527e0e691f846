package redistest

import (
	"strconv"
	"strings"
	"sync"

	"github.com/luma/lantern/protocol"
)

// Keyspace is a tiny Redis: strings, hashes and capped streams, plus AUTH and
// SELECT. It is the default Handler of a Server.
type Keyspace struct {
	password string

	mu      sync.Mutex
	strings map[string][]byte
	hashes  map[string]map[string][]byte
	streams map[string][][]byte
	seq     int64
}

func NewKeyspace(password string) *Keyspace {
	return &Keyspace{
		password: password,
		strings:  make(map[string][]byte),
		hashes:   make(map[string]map[string][]byte),
		streams:  make(map[string][][]byte),
	}
}

// Hash returns a copy of the hash at key.
func (k *Keyspace) Hash(key string) map[string]string {
	k.mu.Lock()
	defer k.mu.Unlock()

	h := make(map[string]string, len(k.hashes[key]))
	for f, v := range k.hashes[key] {
		h[f] = string(v)
	}

	return h
}

// LastEntry returns the fields of the newest entry added to the stream at key.
func (k *Keyspace) LastEntry(key string) []string {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries := k.streams[key]
	if len(entries) == 0 {
		return nil
	}

	fields := strings.Split(string(entries[len(entries)-1]), "\x00")
	return fields
}

func (k *Keyspace) Handle(q protocol.Query) (protocol.Reply, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	args := q[1:]

	switch strings.ToUpper(string(q.Command())) {
	case "PING":
		return protocol.SimpleString("PONG"), true

	case "ECHO":
		if len(args) != 1 {
			return wrongArgs("echo"), true
		}
		return protocol.BulkString(args[0]), true

	case "AUTH":
		if len(args) != 1 {
			return wrongArgs("auth"), true
		}
		if string(args[0]) != k.password {
			return protocol.Error("WRONGPASS invalid username-password pair"), true
		}
		return protocol.SimpleString("OK"), true

	case "SELECT":
		if len(args) != 1 {
			return wrongArgs("select"), true
		}
		if _, err := strconv.Atoi(string(args[0])); err != nil {
			return protocol.Error("ERR value is not an integer or out of range"), true
		}
		return protocol.SimpleString("OK"), true

	case "SET":
		if len(args) != 2 {
			return wrongArgs("set"), true
		}
		k.strings[string(args[0])] = args[1]
		return protocol.SimpleString("OK"), true

	case "GET":
		if len(args) != 1 {
			return wrongArgs("get"), true
		}
		v, ok := k.strings[string(args[0])]
		if !ok {
			return protocol.Nil(), true
		}
		return protocol.BulkString(v), true

	case "DEL":
		var n int64
		for _, key := range args {
			str, hash, stream := k.delString(key), k.delHash(key), k.delStream(key)
			if str || hash || stream {
				n++
			}
		}
		return protocol.Integer(n), true

	case "HSET":
		if len(args) < 3 || len(args)%2 != 1 {
			return wrongArgs("hset"), true
		}
		h, ok := k.hashes[string(args[0])]
		if !ok {
			h = make(map[string][]byte)
			k.hashes[string(args[0])] = h
		}
		var added int64
		for i := 1; i < len(args); i += 2 {
			if _, exists := h[string(args[i])]; !exists {
				added++
			}
			h[string(args[i])] = args[i+1]
		}
		return protocol.Integer(added), true

	case "XADD":
		return k.xadd(args), true

	default:
		return protocol.Error("ERR unknown command '" + string(q.Command()) + "'"), true
	}
}

// xadd understands XADD key [MAXLEN n] * field value ...
func (k *Keyspace) xadd(args protocol.Query) protocol.Reply {
	if len(args) < 2 {
		return wrongArgs("xadd")
	}

	key := string(args[0])
	args = args[1:]
	maxLen := -1

	if strings.EqualFold(string(args[0]), "MAXLEN") {
		if len(args) < 2 {
			return wrongArgs("xadd")
		}
		n, err := strconv.Atoi(string(args[1]))
		if err != nil {
			return protocol.Error("ERR value is not an integer or out of range")
		}
		maxLen = n
		args = args[2:]
	}

	if len(args) < 3 || string(args[0]) != "*" || len(args[1:])%2 != 0 {
		return wrongArgs("xadd")
	}

	fields := make([]string, 0, len(args)-1)
	for _, a := range args[1:] {
		fields = append(fields, string(a))
	}

	entries := append(k.streams[key], []byte(strings.Join(fields, "\x00")))
	if maxLen >= 0 && len(entries) > maxLen {
		entries = entries[len(entries)-maxLen:]
	}
	k.streams[key] = entries

	k.seq++
	return protocol.BulkString([]byte(strconv.FormatInt(k.seq, 10) + "-0"))
}

func (k *Keyspace) delString(key []byte) bool {
	_, ok := k.strings[string(key)]
	delete(k.strings, string(key))
	return ok
}

func (k *Keyspace) delHash(key []byte) bool {
	_, ok := k.hashes[string(key)]
	delete(k.hashes, string(key))
	return ok
}

func (k *Keyspace) delStream(key []byte) bool {
	_, ok := k.streams[string(key)]
	delete(k.streams, string(key))
	return ok
}

func wrongArgs(cmd string) protocol.Reply {
	return protocol.Error("ERR wrong number of arguments for '" + cmd + "' command")
}
