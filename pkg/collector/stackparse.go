package collector

import (
	"bytes"
)

// Goroutine dumps produced by runtime.Stack(buf, true) look like:
//
//	goroutine 7 [chan receive, 2 minutes]:
//	main.worker(0xc000012345)
//		/src/main.go:42 +0x1d
//	created by main.start in goroutine 1
//		/src/main.go:30 +0x45
//
// Goroutines are separated by blank lines.

var (
	goroutinePrefix = []byte("goroutine ")
	createdByPrefix = []byte("created by ")
	elidedPrefix    = []byte("...additional frames elided...")
	pcOffsetMarker  = []byte(" +0x")
)

// nextLine splits the first line off data.
func nextLine(data []byte) (line, rest []byte) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return data[:i], data[i+1:]
	}
	return data, nil
}

// parseHeader parses "goroutine <id> [<state>, <wait>]:".
func parseHeader(line []byte) (id int64, state []byte, ok bool) {
	rest := line[len(goroutinePrefix):]
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		id = id*10 + int64(rest[i]-'0')
		i++
	}
	if i == 0 {
		return 0, nil, false
	}

	open := bytes.IndexByte(rest, '[')
	end := bytes.LastIndexByte(rest, ']')
	if open < 0 || end < open {
		return id, nil, true
	}
	state = rest[open+1 : end]
	if comma := bytes.IndexByte(state, ','); comma >= 0 {
		state = state[:comma]
	}
	return id, state, true
}

// trimArgs strips the argument list from a function line, turning
// "main.(*T).run(0xc000010000, 0x1)" into "main.(*T).run".
func trimArgs(line []byte) []byte {
	if len(line) == 0 || line[len(line)-1] != ')' {
		return line
	}
	if i := bytes.LastIndexByte(line, '('); i > 0 {
		return line[:i]
	}
	return line
}

// parseLocation parses "\t/path/file.go:42 +0x1d" into file and line.
func parseLocation(line []byte) (file []byte, lineNo int) {
	line = bytes.TrimLeft(line, "\t ")
	if i := bytes.LastIndex(line, pcOffsetMarker); i >= 0 {
		line = line[:i]
	}
	colon := bytes.LastIndexByte(line, ':')
	if colon < 0 {
		return line, 0
	}
	for _, c := range line[colon+1:] {
		if c < '0' || c > '9' {
			return line, 0
		}
		lineNo = lineNo*10 + int(c-'0')
	}
	return line[:colon], lineNo
}
