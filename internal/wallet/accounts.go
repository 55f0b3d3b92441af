package wallet

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one line of the accounts file.
type Entry struct {
	Line       int
	PrivateKey string
	Mnemonic   string
}

// Wallet materialises the entry.
func (e Entry) Wallet() (*Wallet, error) {
	if e.PrivateKey != "" {
		return FromPrivateKey(e.PrivateKey)
	}
	return FromMnemonic(e.Mnemonic)
}

// LoadEntries reads wallets from path. Blank lines and # comments are skipped.
// A line is a JSON object with private_key or mnemonic, a hex private key, or a mnemonic.
func LoadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		e, ok, err := ParseEntry(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if !ok {
			continue
		}
		e.Line = lineNo
		out = append(out, e)
	}
	return out, sc.Err()
}

// ParseEntry parses a single accounts-file line. ok is false for blank or comment lines.
func ParseEntry(line string) (Entry, bool, error) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, "#") {
		return Entry{}, false, nil
	}
	if strings.HasPrefix(s, "{") {
		var obj struct {
			PrivateKey string `json:"private_key"`
			Mnemonic   string `json:"mnemonic"`
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return Entry{}, false, fmt.Errorf("bad json entry: %w", err)
		}
		switch {
		case obj.PrivateKey != "":
			return Entry{PrivateKey: strings.TrimSpace(obj.PrivateKey)}, true, nil
		case obj.Mnemonic != "":
			return Entry{Mnemonic: strings.TrimSpace(obj.Mnemonic)}, true, nil
		default:
			return Entry{}, false, fmt.Errorf("json entry has neither private_key nor mnemonic")
		}
	}
	if strings.HasPrefix(s, "0x") || isHexKey(s) {
		return Entry{PrivateKey: s}, true, nil
	}
	return Entry{Mnemonic: s}, true, nil
}

func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// Selection narrows the loaded list. Indices are 1-based and inclusive.
type Selection struct {
	Exact   []int
	Start   int
	End     int
	Shuffle bool
	Rand    *rand.Rand
}

// Select applies Exact first, else the Start..End window ([0,0] keeps all), then optional shuffle.
func Select(entries []Entry, sel Selection) []Entry {
	var out []Entry
	switch {
	case len(sel.Exact) > 0:
		for _, n := range sel.Exact {
			if n >= 1 && n <= len(entries) {
				out = append(out, entries[n-1])
			}
		}
	case sel.Start > 0 || sel.End > 0:
		start, end := sel.Start, sel.End
		if start < 1 {
			start = 1
		}
		if end < 1 || end > len(entries) {
			end = len(entries)
		}
		if start <= end {
			out = append(out, entries[start-1:end]...)
		}
	default:
		out = append(out, entries...)
	}
	if sel.Shuffle && len(out) > 1 {
		shuffle := rand.Shuffle
		if sel.Rand != nil {
			shuffle = sel.Rand.Shuffle
		}
		shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

// AppendLines appends lines to path, creating parent directories.
func AppendLines(path string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}
