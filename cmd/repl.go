package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ergochat/readline"

	"github.com/ntfind/ntfind/config"
	"github.com/ntfind/ntfind/drives"
	"github.com/ntfind/ntfind/export"
	"github.com/ntfind/ntfind/search"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem(":volumes"),
	readline.PcItem(":stats"),
	readline.PcItem(":rescan"),
	readline.PcItem(":watch"),
	readline.PcItem(":save"),
	readline.PcItem(":export"),
	readline.PcItem(":help"),
	readline.PcItem(":quit"),

	readline.PcItem("size:"),
	readline.PcItem("ext:"),
	readline.PcItem("modified:"),
	readline.PcItem("created:"),
	readline.PcItem("accessed:"),
	readline.PcItem("type:"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

type repl struct {
	mgr  *drives.Manager
	cfg  *config.Config
	last []search.Result
}

func runREPL(mgr *drives.Manager, cfg *config.Config) error {
	// Query history lives next to the saved indexes.
	historyFile := filepath.Join(cfg.DataDir, "history")
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		historyFile = ""
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ntfind> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	rl.CaptureExitSignal()

	r := &repl{mgr: mgr, cfg: cfg}
	fmt.Println("Type to search, :help for commands.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, ":"):
			if quit := r.command(line); quit {
				return nil
			}
		default:
			r.search(line)
		}
	}
}

func (r *repl) command(line string) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case ":quit", ":q", ":exit":
		return true

	case ":help", ":h":
		r.printHelp()

	case ":volumes":
		r.printVolumes()

	case ":stats":
		r.printStats()

	case ":rescan":
		if arg == "" {
			fmt.Println("usage: :rescan <volume>")
			return false
		}
		if err := r.mgr.Rescan(context.Background(), arg); err != nil {
			fmt.Printf("rescan: %v\n", err)
			return false
		}
		fmt.Printf("%s rescanned\n", arg)

	case ":watch":
		if arg == "" {
			fmt.Println("usage: :watch <folder>")
			return false
		}
		if err := r.mgr.Watch(arg); err != nil {
			fmt.Printf("watch: %v\n", err)
			return false
		}
		fmt.Printf("watching %s\n", arg)

	case ":save":
		if err := r.mgr.SaveAll(); err != nil {
			fmt.Printf("save: %v\n", err)
			return false
		}
		fmt.Println("indexes saved")

	case ":export":
		if arg == "" {
			fmt.Println("usage: :export <file.csv|file.json>")
			return false
		}
		if len(r.last) == 0 {
			fmt.Println("nothing to export; run a search first")
			return false
		}
		if err := export.ToFile(arg, r.last); err != nil {
			fmt.Printf("export: %v\n", err)
			return false
		}
		fmt.Printf("%d results written to %s\n", len(r.last), arg)

	default:
		fmt.Printf("command unknown: %s (:help lists commands)\n", cmd)
	}
	return false
}

func (r *repl) search(line string) {
	resp, err := runQuery(r.mgr, line, r.cfg.SearchLimit)
	if err != nil {
		fmt.Println(err)
		return
	}
	r.last = resp.Results
	printResults(os.Stdout, resp)
}

func printResults(w io.Writer, resp *search.Response) {
	for i, res := range resp.Results {
		e := res.Entry
		size := "<DIR>"
		if !e.IsDir {
			size = export.FormatFileSize(e.Size)
		}
		mod := ""
		if !e.Modified.IsZero() {
			mod = e.Modified.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%3d. %-38s %10s  %-16s  %s\n", i+1, clip(e.Name, 38), size, mod, e.Path)
	}
	fmt.Fprintf(w, "%d of %d matches in %s\n",
		len(resp.Results), resp.TotalMatches, resp.Elapsed.Round(100*time.Microsecond))
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func (r *repl) printVolumes() {
	for _, st := range r.mgr.Stats() {
		label := st.Name
		if st.Kind == "watch" {
			label += " (watched)"
		}
		line := fmt.Sprintf("%-24s %-12s %d files, %d dirs", label, st.State, st.Files, st.Dirs)
		if st.LastError != "" {
			line += "  [" + st.LastError + "]"
		}
		fmt.Println(line)
	}
}

func (r *repl) printStats() {
	for _, st := range r.mgr.Stats() {
		fmt.Printf("%s (%s): %s\n", st.Name, st.Kind, st.State)
		fmt.Printf("  entries: %d files, %d dirs\n", st.Files, st.Dirs)
		if st.Scan.Records > 0 {
			fmt.Printf("  scan: %d records, %d indexed, %d parse errors, %d orphans in %s\n",
				st.Scan.Records, st.Scan.Indexed, st.Scan.ParseErrors, st.Scan.Orphans,
				st.Scan.Elapsed.Round(time.Millisecond))
		}
		if st.Search.Queries > 0 {
			fmt.Printf("  search: %d queries, %d entries scanned, last query %s\n",
				st.Search.Queries, st.Search.EntriesScanned,
				st.Search.LastElapsed.Round(100*time.Microsecond))
		}
		if st.LastError != "" {
			fmt.Printf("  error: %s\n", st.LastError)
		}
	}
}

func (r *repl) printHelp() {
	fmt.Print(`Type anything to search. Filter tokens mix with the query text:
  size:>100mb  size:1mb-10mb  ext:pdf,docx  type:file  type:dir
  modified:7d  created:>2024-01-01  accessed:<2023-06-30

Commands:
  :volumes          indexed volumes and their state
  :stats            scan and query statistics
  :rescan <volume>  rebuild one volume's index
  :watch <folder>   watch a folder tree outside MFT coverage
  :save             save all indexes now
  :export <file>    write the last results to a .csv or .json file
  :help             this text
  :quit             exit
`)
}
