// Package procout parses the stdout of the database tools that shardctl
// drives.  Every assumption about their output format lives here.
package procout

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

var ErrUnexpectedOutput = errors.New("unexpected tool output")

// evalBannerLines is the number of leading lines the admin shell prints
// before the evaluated result.
const evalBannerLines = 2

// ParseForkPID extracts the pid of a forked server from its launch banner:
//
//	about to fork child process, waiting until server is ready for connections.
//	forked process: 4242
//	child process started successfully, parent exiting
func ParseForkPID(stdout string) (int, error) {
	lines := splitLines(stdout)
	if len(lines) < 2 {
		return 0, fmt.Errorf("%w: fork banner has %d lines", ErrUnexpectedOutput, len(lines))
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 3 {
		return 0, fmt.Errorf("%w: no pid in fork banner line %q", ErrUnexpectedOutput, lines[1])
	}

	pid, err := strconv.Atoi(fields[2])
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: invalid pid %q", ErrUnexpectedOutput, fields[2])
	}

	return pid, nil
}

// ParsePid reads the contents of a pid file.
func ParsePid(content string) (int, error) {
	pid, err := strconv.Atoi(strings.TrimSpace(content))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: invalid pid file content %q", ErrUnexpectedOutput, content)
	}

	return pid, nil
}

type EvalResult struct {
	Ok       bool
	ErrMsg   string
	Code     int
	CodeName string
	Fields   map[string]any
}

// shell helpers such as Timestamp(1, 2) or ObjectId("..") are not JSON
var shellCtorRe = regexp.MustCompile(`^(Timestamp|ObjectId|ISODate|NumberLong|NumberInt|NumberDecimal|UUID|BinData|DBRef)\(([^()]*)\)`)

// normalizeShellJSON quotes shell constructors into strings.  Text inside
// string values is left alone.
func normalizeShellJSON(s string) string {
	var b strings.Builder
	inString, escaped := false, false

	for i := 0; i < len(s); {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			i++
			continue
		}

		if c == '"' {
			inString = true
			b.WriteByte(c)
			i++
			continue
		}

		if i == 0 || !isWordByte(s[i-1]) {
			if m := shellCtorRe.FindStringSubmatch(s[i:]); m != nil {
				inner := strings.ReplaceAll(m[2], `"`, "")
				b.WriteString(strconv.Quote(m[1] + "(" + strings.TrimSpace(inner) + ")"))
				i += len(m[0])
				continue
			}
		}

		b.WriteByte(c)
		i++
	}

	return b.String()
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// ParseEvalResult parses the output of an admin shell --eval invocation.
// The banner lines are dropped and the remaining lines are joined with
// spaces and decoded as one document.
func ParseEvalResult(stdout string) (*EvalResult, error) {
	lines := splitLines(stdout)
	if len(lines) <= evalBannerLines {
		return nil, fmt.Errorf("%w: eval output has no document", ErrUnexpectedOutput)
	}

	body := normalizeShellJSON(strings.Join(lines[evalBannerLines:], " "))

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedOutput, err)
	}

	res := &EvalResult{Fields: fields}

	switch ok := fields["ok"].(type) {
	case float64:
		res.Ok = ok == 1
	case bool:
		res.Ok = ok
	case nil:
		return nil, fmt.Errorf("%w: eval document has no ok field", ErrUnexpectedOutput)
	default:
		return nil, fmt.Errorf("%w: eval ok field has type %T", ErrUnexpectedOutput, ok)
	}

	if errMsg, ok := fields["errmsg"].(string); ok {
		res.ErrMsg = errMsg
	}
	if code, ok := fields["code"].(float64); ok {
		res.Code = int(code)
	}
	if codeName, ok := fields["codeName"].(string); ok {
		res.CodeName = codeName
	}

	return res, nil
}

// Bool reads a boolean field of the document, false when absent.
func (r *EvalResult) Bool(name string) bool {
	v, _ := r.Fields[name].(bool)
	return v
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
