package domain

import (
	"context"
	"io"
)

// RunObject is one archived file of a run, e.g. report.json or trades.csv.
// Rows is the CSV row count, zero for other files.
type RunObject struct {
	Name string
	Body io.Reader
	Rows int
}

// ReportBucket stores run artefacts grouped by run id.
type ReportBucket interface {
	PutRunObject(ctx context.Context, runID string, obj RunObject) error
	RunIDs(ctx context.Context) ([]string, error)
}

// CandleBucket opens candle CSV files kept in object storage.
type CandleBucket interface {
	OpenCandles(ctx context.Context, key string) (io.ReadCloser, error)
}

// ReportArchiver stores finished run reports in cold storage and returns
// the object key prefix it wrote under.
type ReportArchiver interface {
	ArchiveReport(ctx context.Context, runID string, report Report) (string, error)
}
