// Package backfill loads historical chat messages from Parquet exports
// so the conversation windows carry context from before process start.
package backfill

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"beepbot/internal/chat"
	logx "beepbot/pkg/logx"
)

// row mirrors one exported message. TS is seconds since epoch with a
// fractional part, same as the platform's message timestamp token.
type row struct {
	TS      float64 `parquet:"ts"`
	Channel string  `parquet:"channel"`
	Thread  string  `parquet:"thread_ts,optional"`
	User    string  `parquet:"user"`
	Text    string  `parquet:"text"`
}

// Load reads the Parquet file at path and returns its messages in
// timestamp order, oldest first. Rows without a channel are skipped.
func Load(path string, log logx.Logger) ([]chat.Message, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	rows, err := parquet.ReadFile[row](path)
	if err != nil {
		return nil, fmt.Errorf("backfill: read %s: %w", path, err)
	}

	msgs := make([]chat.Message, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		if r.Channel == "" {
			skipped++
			continue
		}
		msgs = append(msgs, chat.Message{
			Channel: r.Channel,
			Thread:  r.Thread,
			User:    r.User,
			Text:    r.Text,
			TS:      tsToken(r.TS),
			At:      tsTime(r.TS),
		})
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].At.Before(msgs[j].At) })

	log.Info("backfill loaded",
		logx.String("path", path),
		logx.Int("rows", len(rows)),
		logx.Int("messages", len(msgs)),
		logx.Int("skipped", skipped))
	return msgs, nil
}

func tsToken(ts float64) string {
	return fmt.Sprintf("%.6f", ts)
}

func tsTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
