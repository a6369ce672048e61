package ahrs

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// AHRSLogger writes the values of a filter's log map as CSV, one row per Log call.
// The columns are fixed by the keys present in the map when the logger is created.
type AHRSLogger struct {
	f      *os.File
	logMap map[string]interface{}
	Header []string
	vals   []string
}

// NewAHRSLogger creates filename and writes the header row.
// Keys are sorted, with "T" first when present.
func NewAHRSLogger(filename string, logMap map[string]interface{}) (*AHRSLogger, error) {
	if len(logMap) == 0 {
		return nil, fmt.Errorf("ahrs logger: empty log map")
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("ahrs logger: %w", err)
	}

	l := &AHRSLogger{f: f, logMap: logMap}
	for k := range logMap {
		l.Header = append(l.Header, k)
	}
	sort.Slice(l.Header, func(i, j int) bool {
		if l.Header[i] == "T" || l.Header[j] == "T" {
			return l.Header[i] == "T"
		}
		return l.Header[i] < l.Header[j]
	})
	l.vals = make([]string, len(l.Header))

	if _, err := fmt.Fprintln(l.f, strings.Join(l.Header, ",")); err != nil {
		f.Close()
		return nil, fmt.Errorf("ahrs logger: %w", err)
	}
	return l, nil
}

// Log appends the current contents of the log map.
func (l *AHRSLogger) Log() error {
	for i, k := range l.Header {
		switch v := l.logMap[k].(type) {
		case float64:
			l.vals[i] = fmt.Sprintf("%f", v)
		case nil:
			l.vals[i] = ""
		default:
			l.vals[i] = fmt.Sprint(v)
		}
	}
	if _, err := fmt.Fprintln(l.f, strings.Join(l.vals, ",")); err != nil {
		return fmt.Errorf("ahrs logger: %w", err)
	}
	return nil
}

func (l *AHRSLogger) Close() error {
	return l.f.Close()
}
