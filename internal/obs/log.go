package obs

import (
	"encoding/json"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

var (
	lineOnce sync.Once
	lineOut  *log.Logger
)

// Logger returns the process-wide line writer. Every component that emits
// JSON shares it so records never interleave mid-line.
func Logger() *log.Logger {
	lineOnce.Do(func() {
		lineOut = log.New(os.Stdout, "", 0)
	})
	return lineOut
}

// Emit writes one structured JSON log line.
func Emit(fields map[string]any) {
	Logger().Println(encodeLine(fields))
}

// encodeLine marshals fields into a single JSON line. A value that cannot be
// marshaled degrades to an error line naming the offending field set, so the
// stream stays parseable.
func encodeLine(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err == nil {
		return string(data)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data, _ = json.Marshal(map[string]any{
		"level":  "error",
		"msg":    "log marshal failed",
		"fields": strings.Join(keys, ","),
	})
	return string(data)
}
