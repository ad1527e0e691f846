package client

import (
	"fmt"
	"strconv"
	"strings"
)

// Priority classes the write loop drains in ascending order. Within a class
// queries go out in the order they were submitted.
type Priority uint8

const (
	Heartbeat Priority = iota
	Config
	State
	History
	CheckResult

	// SyncConnection is drained after every other class, which makes anything
	// queued on it a barrier for what was queued before.
	SyncConnection Priority = 255
)

// Priorities lists the named classes in dispatch order, lowest value first.
var Priorities = []Priority{Heartbeat, Config, State, History, CheckResult, SyncConnection}

var priorityNames = map[Priority]string{
	Heartbeat:      "heartbeat",
	Config:         "config",
	State:          "state",
	History:        "history",
	CheckResult:    "check_result",
	SyncConnection: "sync_connection",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}

	return "priority_" + strconv.Itoa(int(p))
}

// ParsePriority accepts a class name as returned by String, or a number.
func ParsePriority(s string) (Priority, error) {
	name := strings.ToLower(strings.TrimSpace(s))

	for p, n := range priorityNames {
		if n == name || strings.ReplaceAll(n, "_", "") == name {
			return p, nil
		}
	}

	n, err := strconv.ParseUint(strings.TrimPrefix(name, "priority_"), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown priority %q", s)
	}

	return Priority(n), nil
}
