package dbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// logTail tracks which log the viewer is on and how much of it has been
// shown. The input handler and the refresh goroutine both touch it.
type logTail struct {
	mu       sync.Mutex
	paths    []string
	active   int
	lastSize int64
}

func (lt *logTail) cycle(delta int) (string, int, int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	n := len(lt.paths)
	lt.active = (lt.active + delta + n) % n
	lt.lastSize = -1
	return lt.paths[lt.active], lt.active, n
}

// grew reports whether the active log changed size since the last check.
func (lt *logTail) grew() (string, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	path := lt.paths[lt.active]
	info, err := os.Stat(path)
	if err != nil || info.Size() == lt.lastSize {
		return "", false
	}
	lt.lastSize = info.Size()
	return path, true
}

// LogsTUI shows the build logs in a full-screen viewer that follows the
// active log while a build writes to it. h/l or the arrow keys switch
// between logs, newest first. A non-empty pkg narrows the candidates to
// that package's logs.
func LogsTUI(cfg *Config, pkg string) error {
	logs, err := collectLogs(cfg, pkg)
	if err != nil {
		return err
	}
	lt := &logTail{paths: logs, lastSize: -1}

	app := tview.NewApplication()

	header := tview.NewTextView()
	header.SetTextColor(tcell.ColorYellow)

	logView := tview.NewTextView()
	logView.SetScrollable(true)
	logView.SetWrap(true)

	footer := tview.NewTextView()
	footer.SetText(" q quit   h/l switch log   Home/End jump")
	footer.SetTextColor(tcell.ColorGray)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(logView, 0, 1, true).
		AddItem(footer, 1, 0, false)

	// show runs on the UI goroutine only.
	show := func(path string, idx, total int) {
		header.SetText(fmt.Sprintf(" log %d/%d  %s", idx+1, total, path))
		data, err := os.ReadFile(path)
		if err != nil {
			logView.SetText(fmt.Sprintf("cannot read %s: %v", path, err))
			return
		}
		logView.SetText(string(data))
		logView.ScrollToEnd()
	}
	show(logs[0], 0, len(logs))

	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch {
		case ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlQ || ev.Rune() == 'q':
			app.Stop()
			return nil
		case ev.Key() == tcell.KeyLeft || ev.Rune() == 'h':
			show(lt.cycle(-1))
			return nil
		case ev.Key() == tcell.KeyRight || ev.Rune() == 'l':
			show(lt.cycle(1))
			return nil
		case ev.Key() == tcell.KeyHome:
			logView.ScrollToBeginning()
			return nil
		case ev.Key() == tcell.KeyEnd:
			logView.ScrollToEnd()
			return nil
		}
		return ev
	})

	stop := make(chan struct{})
	go func() {
		tick := time.NewTicker(400 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				path, ok := lt.grew()
				if !ok {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					continue
				}
				app.QueueUpdateDraw(func() {
					logView.SetText(string(data))
					logView.ScrollToEnd()
				})
			}
		}
	}()

	err = app.SetRoot(flex, true).Run()
	close(stop)
	return err
}

// collectLogs lists the candidate log files, most recently modified first.
func collectLogs(cfg *Config, pkg string) ([]string, error) {
	pattern := "*.log"
	if pkg != "" {
		pattern = pkg + "*.log"
	}
	matches, err := filepath.Glob(filepath.Join(cfg.LogDir, pattern))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("no build logs under %s", cfg.LogDir)
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, erri := os.Stat(matches[i])
		fj, errj := os.Stat(matches[j])
		if erri != nil || errj != nil {
			return matches[i] > matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches, nil
}
