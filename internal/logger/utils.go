package logger

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// goroutineID parses the id from the stack trace header "goroutine 42 [running]:".
func goroutineID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

// consoleFormatCallerLastTwoDirs shortens the caller to "dir/dir/file.go:line".
func consoleFormatCallerLastTwoDirs(i any) string {
	c, _ := i.(string)
	split := strings.Split(c, string(os.PathSeparator))
	if l := len(split); l > 3 {
		return strings.Join(split[l-3:], "/")
	}
	return strings.Join(split, "/")
}
