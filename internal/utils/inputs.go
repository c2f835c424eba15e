package utils

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks until it reads y/yes or n/no. End of input counts as no.
func Confirm(in io.Reader, out io.Writer, question string) bool {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s (y/n): ", question)
		response, err := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(response)) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			fmt.Fprintln(out)
			return false
		}
		fmt.Fprintln(out, "Please enter y or n")
	}
}

// PromptLine asks question and returns the trimmed answer, for example a
// pairing code typed from the other device's screen.
func PromptLine(in io.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprintf(out, "%s: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	return line, nil
}
