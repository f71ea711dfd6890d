package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide line logger. Both the request log and the
// audit trail write JSON objects through it, one per line on stdout.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// RequestLog is one served HTTP request. RequestID matches the X-Request-ID
// header echoed to the client, so a log line can be tied to a support report.
type RequestLog struct {
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip,omitempty"`
}

// LogRequest emits one JSON line for a served request.
func LogRequest(entry RequestLog) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"request log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
