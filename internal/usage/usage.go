package usage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultWindowDays is the trailing window used when Options.Days is unset.
	DefaultWindowDays = 7

	// MaxWindowDays is the widest window the reporting surface accepts.
	MaxWindowDays = 30

	// DefaultMaxFiles caps how many log files are read per report.
	DefaultMaxFiles = 200

	dayLayout = "2006-01-02"
	logSuffix = ".jsonl"
)

// Counters accumulates token usage.
type Counters struct {
	Input       int64
	Output      int64
	CacheRead   int64
	CacheWrite  int64
	TotalTokens int64
	Cost        float64
	Messages    int
}

func (c *Counters) add(o Counters) {
	c.Input += o.Input
	c.Output += o.Output
	c.CacheRead += o.CacheRead
	c.CacheWrite += o.CacheWrite
	c.TotalTokens += o.TotalTokens
	c.Cost += o.Cost
	c.Messages += o.Messages
}

// FileSummary is the per-session roll-up of one log file.
type FileSummary struct {
	Name        string // path relative to the log directory
	ModTime     time.Time
	TotalTokens int64
	Cost        float64
	Messages    int
}

// Report is the result of one aggregation pass.
type Report struct {
	Dir          string
	Since        time.Time
	ByDay        map[string]*Counters
	Files        []FileSummary
	Total        Counters
	SkippedLines int
	SkippedFiles int
}

// Days returns the day keys of ByDay, newest first.
func (r *Report) Days() []string {
	days := make([]string, 0, len(r.ByDay))
	for d := range r.ByDay {
		days = append(days, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	return days
}

// Options controls an aggregation pass. Zero values select the defaults.
type Options struct {
	Dir      string
	Days     int
	MaxFiles int
	Now      time.Time
	Location *time.Location
	Pricing  *Pricing

	// EstimateMissing fills an absent totalTokens with the sum of the counters
	// and an absent cost with a Pricing estimate. Off by default: absent
	// numbers count as zero.
	EstimateMissing bool
}

func (o *Options) setDefaults() {
	if o.Days <= 0 {
		o.Days = DefaultWindowDays
	}
	if o.MaxFiles <= 0 {
		o.MaxFiles = DefaultMaxFiles
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Pricing == nil {
		o.Pricing = DefaultPricing()
	}
}

type logFile struct {
	path    string
	name    string
	modTime time.Time
}

// Aggregate reads the newest session logs under opts.Dir that were modified
// within the trailing window and sums their usage by calendar day and by file.
// A missing directory yields an empty report. Lines that are not valid JSON or
// carry no usage are counted in SkippedLines and otherwise ignored.
func Aggregate(opts Options) (*Report, error) {
	opts.setDefaults()

	report := &Report{
		Dir:   opts.Dir,
		Since: opts.Now.Add(-time.Duration(opts.Days) * 24 * time.Hour),
		ByDay: map[string]*Counters{},
		Files: []FileSummary{},
	}

	files, err := collectFiles(opts.Dir, report.Since)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report, nil
		}
		return nil, fmt.Errorf("failed to list usage logs in %s: %w", opts.Dir, err)
	}
	if len(files) > opts.MaxFiles {
		files = files[:opts.MaxFiles]
	}

	for _, lf := range files {
		summary, err := aggregateFile(lf, &opts, report)
		if err != nil {
			slog.Warn("Failed to read usage log", "path", lf.path, "error", err)
			report.SkippedFiles++
			continue
		}
		report.Files = append(report.Files, summary)
	}

	return report, nil
}

// collectFiles walks dir for log files modified at or after since, newest first.
func collectFiles(dir string, since time.Time) ([]logFile, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}

	var files []logFile
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), logSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(since) {
			return nil
		}
		name, err := filepath.Rel(dir, path)
		if err != nil {
			name = d.Name()
		}
		files = append(files, logFile{path: path, name: filepath.ToSlash(name), modTime: info.ModTime()})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].name < files[j].name
		}
		return files[i].modTime.After(files[j].modTime)
	})
	return files, nil
}

func aggregateFile(lf logFile, opts *Options, report *Report) (FileSummary, error) {
	summary := FileSummary{Name: lf.name, ModTime: lf.modTime}

	f, err := os.Open(lf.path)
	if err != nil {
		return summary, err
	}
	defer f.Close()

	fallbackDay := lf.modTime.In(opts.Location).Format(dayLayout)
	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			c, ts, ok := parseLine(line, opts)
			if !ok {
				report.SkippedLines++
			} else {
				day := fallbackDay
				if !ts.IsZero() {
					day = ts.In(opts.Location).Format(dayLayout)
				}
				bucket, exists := report.ByDay[day]
				if !exists {
					bucket = &Counters{}
					report.ByDay[day] = bucket
				}
				bucket.add(c)
				report.Total.add(c)
				summary.TotalTokens += c.TotalTokens
				summary.Cost += c.Cost
				summary.Messages += c.Messages
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return summary, readErr
		}
	}

	return summary, nil
}

type record struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
	Message   *struct {
		Usage *rawUsage `json:"usage"`
	} `json:"message"`
}

// rawUsage decodes counters as floats so that producers writing 12.0 are accepted.
type rawUsage struct {
	Input       *float64 `json:"input"`
	Output      *float64 `json:"output"`
	CacheRead   *float64 `json:"cacheRead"`
	CacheWrite  *float64 `json:"cacheWrite"`
	TotalTokens *float64 `json:"totalTokens"`
	Cost        *struct {
		Total *float64 `json:"total"`
	} `json:"cost"`
}

// parseLine decodes one usage record. The returned time is zero when the record
// carries no usable timestamp.
func parseLine(line []byte, opts *Options) (Counters, time.Time, bool) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Counters{}, time.Time{}, false
	}
	if rec.Type != "message" || rec.Message == nil || rec.Message.Usage == nil {
		return Counters{}, time.Time{}, false
	}
	u := rec.Message.Usage

	c := Counters{
		Input:      count(u.Input),
		Output:     count(u.Output),
		CacheRead:  count(u.CacheRead),
		CacheWrite: count(u.CacheWrite),
		Messages:   1,
	}
	c.TotalTokens = count(u.TotalTokens)
	if u.Cost != nil && u.Cost.Total != nil {
		c.Cost = *u.Cost.Total
	}

	if opts.EstimateMissing {
		if u.TotalTokens == nil {
			c.TotalTokens = c.Input + c.Output + c.CacheRead + c.CacheWrite
		}
		if u.Cost == nil || u.Cost.Total == nil {
			c.Cost = opts.Pricing.Estimate(c)
		}
	}

	return c, parseTimestamp(rec.Timestamp), true
}

func count(v *float64) int64 {
	if v == nil || *v < 0 || math.IsNaN(*v) {
		return 0
	}
	return int64(math.Round(*v))
}

// parseTimestamp accepts an RFC 3339 string or a Unix epoch in milliseconds.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(int64(ms))
	}
	return time.Time{}
}
