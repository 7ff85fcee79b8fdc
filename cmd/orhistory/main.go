package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/or-samples/tracking-web/internal/logger"
	"github.com/or-samples/tracking-web/internal/resultstore"
	"github.com/or-samples/tracking-web/pkg/types"
)

func main() {
	var (
		dbPath   string
		limit    int
		asJSON   bool
		logLevel string
		logColor bool
	)

	flag.StringVar(&dbPath, "db", "ortracker.db", "Result history database")
	flag.IntVar(&limit, "limit", 20, "Number of recent result sets to show")
	flag.BoolVar(&asJSON, "json", false, "Print JSON instead of tables")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	os.Exit(run(dbPath, limit, asJSON, os.Stdout))
}

func run(dbPath string, limit int, asJSON bool, out io.Writer) int {
	if _, err := os.Stat(dbPath); err != nil {
		logger.Error("History", "Result history not found: %v", err)
		return 1
	}
	store, err := resultstore.Open(dbPath)
	if err != nil {
		logger.Error("History", "Failed to open result history: %v", err)
		return 1
	}
	defer store.Close()

	report, err := buildReport(store, limit)
	if err != nil {
		logger.Error("History", "Failed to read result history: %v", err)
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(report)
	} else {
		err = report.print(out)
	}
	if err != nil {
		logger.Error("History", "Failed to write report: %v", err)
		return 1
	}
	return 0
}

type sessionReport struct {
	resultstore.SessionSummary
	Classes map[string]int `json:"classes"`
}

type report struct {
	Sessions []sessionReport     `json:"sessions"`
	Recent   []resultstore.Record `json:"recent"`
}

func buildReport(store *resultstore.Store, limit int) (*report, error) {
	sessions, err := store.Sessions()
	if err != nil {
		return nil, err
	}

	r := &report{}
	for _, s := range sessions {
		counts, err := store.ClassCounts(s.Session)
		if err != nil {
			return nil, err
		}
		names, err := store.SessionClasses(s.Session)
		if err != nil {
			return nil, err
		}
		classes := make(map[string]int, len(counts))
		for id, n := range counts {
			name := ""
			if id >= 0 && id < len(names) {
				name = names[id]
			}
			if name == "" {
				name = types.ClassName(nil, id)
			}
			classes[name] += n
		}
		r.Sessions = append(r.Sessions, sessionReport{SessionSummary: s, Classes: classes})
	}

	r.Recent, err = store.Recent(limit)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *report) print(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "SESSION\tRESULTS\tREGIONS\tFRAMES\tTRACKING\tLAST SEEN\tCLASSES")
	for _, s := range r.Sessions {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d-%d\t%v\t%s\t%s\n",
			s.Session, s.Results, s.Regions, s.FirstFrame, s.LastFrame, s.Tracking,
			s.LastSeen.Format("2006-01-02 15:04:05"), formatClasses(s.Classes))
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "STORED\tSESSION\tMODE\tFRAME\tREGIONS")
	for _, rec := range r.Recent {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			rec.StoredAt.Format("15:04:05.000"), rec.Results.Session, rec.Results.Mode,
			rec.Results.FrameNumber, rec.Results.Len())
	}
	return tw.Flush()
}

func formatClasses(classes map[string]int) string {
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)

	s := ""
	for i, name := range names {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", name, classes[name])
	}
	return s
}
