package onnx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Charset maps CTC class indices to text. Index 0 is the blank, dictionary
// entries follow in file order and a trailing space class closes the set.
type Charset struct {
	tokens []string
}

// NewCharset builds a charset from dictionary tokens.
func NewCharset(tokens []string) (*Charset, error) {
	if len(tokens) == 0 {
		return nil, errors.New("dictionary is empty")
	}
	all := make([]string, 0, len(tokens)+2)
	all = append(all, "")
	all = append(all, tokens...)
	all = append(all, " ")
	return &Charset{tokens: all}, nil
}

// LoadCharset reads one token per line. A UTF-8 BOM on the first line is
// dropped. Blank lines are skipped.
func LoadCharset(path string) (*Charset, error) {
	f, err := os.Open(path) //nolint:gosec // G304: dictionary path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer func() { _ = f.Close() }()

	tokens, err := readTokens(f)
	if err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}
	return NewCharset(tokens)
}

func readTokens(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	tokens := make([]string, 0, 512)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		tokens = append(tokens, line)
	}
	return tokens, sc.Err()
}

// Size is the number of classes including blank and space.
func (c *Charset) Size() int { return len(c.tokens) }

// Token returns the text of class i, or "" for blank and unknown classes.
func (c *Charset) Token(i int) string {
	if i <= 0 || i >= len(c.tokens) {
		return ""
	}
	return c.tokens[i]
}
