package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectRPC    = "rpc.jsonrpc2.v1"
	SubjectFailed = "jsonrpc2.failed"
	QueueRPC      = "jsonrpc2"
)

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

// SubjectToken makes an arbitrary string safe to use as one subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return subjectReplacer.Replace(s)
}

// BuildFailedSubject builds the per-method failure event subject under base.
func BuildFailedSubject(base, method string) string {
	return fmt.Sprintf("%s.%s", base, SubjectToken(method))
}
