// Package metrics provides functions to record metrics data.
// It writes daily CSV files for simple setups, instead of
// requiring a metrics pipeline next to every deployment.
package metrics

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tzrikka/xdg"
)

const (
	DefaultConnsFile    = "metrics/gong_conns_%s.csv"
	DefaultMessagesFile = "metrics/gong_msgs_%s.csv"

	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdg.NewFilePermissions
)

var (
	muConns sync.Mutex
	muMsgs  sync.Mutex
)

// IncrementConnectionCounter monitors WebSocket connection lifecycle
// events ("opened", "rejected", "closed"). Rejected connections have
// no id yet, and record 0.
func IncrementConnectionCounter(l *slog.Logger, t time.Time, event string, connID int64) {
	muConns.Lock()
	defer muConns.Unlock()

	record := []string{t.Format(time.RFC3339), event, strconv.FormatInt(connID, 10)}
	if err := appendToCSVFile(DefaultConnsFile, t, record); err != nil {
		l.Error("metrics error: failed to increment connection counter", slog.Any("error", err),
			slog.String("event", event), slog.Int64("conn_id", connID))
	}
}

// IncrementMessageCounter monitors completed WebSocket data messages,
// in both directions ("in", "out").
func IncrementMessageCounter(t time.Time, direction, opcode string, size int) {
	muMsgs.Lock()
	defer muMsgs.Unlock()

	record := []string{t.Format(time.RFC3339), direction, opcode, strconv.Itoa(size)}
	_ = appendToCSVFile(DefaultMessagesFile, t, record)
}

func appendToCSVFile(filename string, t time.Time, record []string) error {
	filename = fmt.Sprintf(filename, t.Format(time.DateOnly))
	f, err := os.OpenFile(filename, fileFlags, filePerms) //gosec:disable G304 // Hardcoded path.
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	return nil
}
