package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorYellow   = "\033[33m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var wheelFrames = []string{"◐", "◓", "◑", "◒"}
var wheelIdx = 0

// termMu serialises every terminal write so the cursor save/restore in
// PrintLiveStatus is never split by a log line.
var termMu sync.Mutex

// IsTerminal reports whether f is attached to a TTY.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// TermWriter writes to a terminal stream under the dashboard lock.
type TermWriter struct {
	f *os.File
}

func (tw TermWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.f.Write(p)
}

func (tw TermWriter) Sync() error { return nil }

// NewTermWriter is the zap console sink (stderr).
func NewTermWriter() TermWriter {
	return TermWriter{f: os.Stderr}
}

// NewConsoleWriter carries operator replies (stdout) alongside the dashboard.
func NewConsoleWriter() TermWriter {
	return TermWriter{f: os.Stdout}
}

// ------------------------------------------------------------
// Banner
// ------------------------------------------------------------

func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
 _  ___   _ ____  _   _ __  __    _
| |/ / | | |  _ \| | | |  \/  |  / \
| ' /| | | | |_) | | | | |\/| | / _ \
| . \| |_| |  _ <| |_| | |  | |/ ___ \
|_|\_\\___/|_| \_\\___/|_|  |_/_/   \_\

      >> SAY IT. PREVIEW IT. DRIVE IT. <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func InitializeTerminal() {
	// Logo 1-9, status line 10, logs scroll from 12.
	fmt.Print("\033[12;r")
	fmt.Print("\033[12;1H")
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// ------------------------------------------------------------
// Live Status
// ------------------------------------------------------------

func PrintLiveStatus() {
	st := CurrentStatus()
	state, task, lastHB := st.State, st.Task, st.LastHeartbeat
	uptime := time.Since(startTime).Round(time.Second)

	pulseIcon, pulseText, pulseColor := "🔴", "OFFLINE", colorNeonMag
	if delta := time.Since(lastHB); delta < 40*time.Second {
		pulseIcon, pulseText, pulseColor = "🟢", "HEALTHY", colorNeonCyan
	} else if delta < 90*time.Second {
		pulseIcon, pulseText, pulseColor = "🟡", "LAGGING", colorPurple
	}

	icon, stateColor := "💤", colorReset
	switch state {
	case StatePlanning:
		icon, stateColor = "🧭", colorNeonCyan
	case StateWaiting:
		icon, stateColor = "✋", colorYellow
	case StateRunning:
		icon, stateColor = "🚗", colorNeonMag
	}

	spinner := " "
	if state == StateRunning {
		spinner = wheelFrames[wheelIdx]
		wheelIdx = (wheelIdx + 1) % len(wheelFrames)
	}

	displayTask := task
	if displayTask == "" {
		displayTask = "Waiting..."
	}
	if st.Steps > 0 {
		displayTask = fmt.Sprintf("%d/%d %s", st.Step, st.Steps, displayTask)
	}
	if len(displayTask) > 40 {
		displayTask = displayTask[:37] + "..."
	}

	statusStr := fmt.Sprintf(
		"\033[s\033[10;1H\033[K%s[%s] %s%s %-8s%s | %s%s %-8s%s [%s] %s%s%s [%v]\033[u",
		colorReset,
		lastHB.Format("15:04:05"),
		pulseColor, pulseIcon, pulseText, colorReset,
		stateColor, icon, state, colorReset,
		displayTask,
		colorPurple, spinner, colorReset,
		uptime,
	)

	termMu.Lock()
	fmt.Print(statusStr)
	termMu.Unlock()
}
