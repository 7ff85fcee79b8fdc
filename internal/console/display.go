// Package console prints recognition results as text
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/or-samples/tracking-web/pkg/types"
)

// Display renders results to a writer, one block per result set
type Display struct {
	mu         sync.Mutex
	out        io.Writer
	classNames []string
}

// New creates a display writing to out (stdout when nil) and labeling
// classes with classNames
func New(out io.Writer, classNames []string) *Display {
	if out == nil {
		out = os.Stdout
	}
	return &Display{out: out, classNames: classNames}
}

// PublishResults renders with the display's class names
func (d *Display) PublishResults(results types.Results) {
	d.Render(results, d.classNames)
}

// Render prints the mode, frame and every region of results
func (d *Display) Render(results types.Results, classNames []string) {
	regions := results.Labeled(classNames)

	d.mu.Lock()
	defer d.mu.Unlock()

	fmt.Fprintf(d.out, "[%s] frame %d: %d object(s)\n", results.Mode, results.FrameNumber, len(regions))
	tw := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	for _, r := range regions {
		fmt.Fprintf(tw, "  %s\t%.2f\tx=%d y=%d w=%d h=%d\n",
			r.ClassName, r.Confidence, r.Rect.X, r.Rect.Y, r.Rect.Width, r.Rect.Height)
	}
	tw.Flush()
}
