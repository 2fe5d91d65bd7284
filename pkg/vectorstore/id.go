package vectorstore

import (
	"fmt"
	"strconv"
	"strings"
)

// SummaryID computes the canonical vector document ID for a minute summary,
// e.g. "summary-42-7". This format is load-bearing: the embedding path,
// cleanup, and reindexing all derive it from here. Changing it requires a
// full reindex.
func SummaryID(recordingID int64, minuteIndex int) string {
	return fmt.Sprintf("summary-%d-%d", recordingID, minuteIndex)
}

// ParseSummaryID extracts the recording ID and minute index from a vector
// document ID produced by [SummaryID].
func ParseSummaryID(id string) (recordingID int64, minuteIndex int, err error) {
	rest, ok := strings.CutPrefix(id, "summary-")
	if !ok {
		return 0, 0, fmt.Errorf("vectorstore: %q is not a summary document id", id)
	}
	ridStr, minStr, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, 0, fmt.Errorf("vectorstore: %q is not a summary document id", id)
	}
	rid, err := strconv.ParseInt(ridStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("vectorstore: parse recording id in %q: %w", id, err)
	}
	minute, err := strconv.Atoi(minStr)
	if err != nil {
		return 0, 0, fmt.Errorf("vectorstore: parse minute index in %q: %w", id, err)
	}
	return rid, minute, nil
}
