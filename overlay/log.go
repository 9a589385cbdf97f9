package overlay

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/inconshreveable/log15"
)

// rootLogger is the package-level ancestor every session's logger derives
// from via New(ctx...), mirroring p2p.newPeer's per-peer logtag.
var rootLogger = log15.New("pkg", "overlay")

var levelColor = map[log15.Lvl]*color.Color{
	log15.LvlCrit:  color.New(color.FgWhite, color.BgRed, color.Bold),
	log15.LvlError: color.New(color.FgRed, color.Bold),
	log15.LvlWarn:  color.New(color.FgYellow),
	log15.LvlInfo:  color.New(color.FgGreen),
	log15.LvlDebug: color.New(color.FgCyan),
}

// colorLevelFormat is a log15.Format for interactive terminals: it colors
// only the level prefix, followed by "[HH:MM:SS] message" and the context as
// space-separated key=value pairs. Meant for a developer running a single session
// interactively, not for production log collection (that path stays
// `log15.LogfmtFormat()`, uncolored).
func colorLevelFormat() log15.Format {
	return log15.FormatFunc(func(r *log15.Record) []byte {
		c, ok := levelColor[r.Lvl]
		prefix := r.Lvl.String()
		if ok {
			prefix = c.Sprint(prefix)
		}
		line := fmt.Sprintf("%s[%s] %s", prefix, r.Time.Format("15:04:05"), r.Msg)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			line += fmt.Sprintf(" %v=%v", r.Ctx[i], r.Ctx[i+1])
		}
		return append([]byte(line), '\n')
	})
}

// NewDevLogger builds a logger that writes colorized, human-scannable lines
// to w instead of the structured logfmt a production deployment collects.
// Meant for a caller driving a PeerSession interactively (a REPL, a manual
// test harness); nothing in the session lifecycle itself constructs one.
func NewDevLogger(w io.Writer) log15.Logger {
	l := log15.New()
	l.SetHandler(log15.StreamHandler(w, colorLevelFormat()))
	return l
}
