package protocol

// Query is a single command with its arguments.
type Query [][]byte

// NewQuery builds a Query from strings.
func NewQuery(command Command, args ...string) Query {
	q := make(Query, 0, len(args)+1)
	q = append(q, []byte(command))

	for _, arg := range args {
		q = append(q, []byte(arg))
	}

	return q
}

// Command returns the command name exactly as it will be sent.
func (q Query) Command() Command {
	if len(q) == 0 {
		return ""
	}

	return Command(q[0])
}

func (q Query) String() string {
	s := make([]byte, 0, 64)

	for i, arg := range q {
		if i > 0 {
			s = append(s, ' ')
		}
		s = append(s, arg...)
	}

	return string(s)
}
