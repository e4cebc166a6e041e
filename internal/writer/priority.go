package writer

import (
	"fmt"
	"strings"
)

// Syslog severities.
const (
	PriorityEmerg   = 0
	PriorityAlert   = 1
	PriorityCrit    = 2
	PriorityErr     = 3
	PriorityWarning = 4
	PriorityNotice  = 5
	PriorityInfo    = 6
	PriorityDebug   = 7
)

var priorities = map[string]int{
	"emerg":   PriorityEmerg,
	"alert":   PriorityAlert,
	"crit":    PriorityCrit,
	"err":     PriorityErr,
	"warning": PriorityWarning,
	"notice":  PriorityNotice,
	"info":    PriorityInfo,
	"debug":   PriorityDebug,
}

var facilities = map[string]int{
	"kern":     0,
	"user":     1,
	"mail":     2,
	"daemon":   3,
	"auth":     4,
	"syslog":   5,
	"lpr":      6,
	"news":     7,
	"uucp":     8,
	"cron":     9,
	"authpriv": 10,
	"ftp":      11,
	"local0":   16,
	"local1":   17,
	"local2":   18,
	"local3":   19,
	"local4":   20,
	"local5":   21,
	"local6":   22,
	"local7":   23,
}

// ParsePriority maps a severity name to its numeric level.
func ParsePriority(name string) (int, error) {
	p, ok := priorities[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown priority %q", name)
	}
	return p, nil
}

// ParseFacility maps a facility name to its numeric code.
func ParseFacility(name string) (int, error) {
	f, ok := facilities[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown facility %q", name)
	}
	return f, nil
}
