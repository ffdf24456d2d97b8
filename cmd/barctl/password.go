package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"barchive/internal/barpass"
)

// readPassword resolves the encryption password from whichever source the
// run flags name: a password file, an interactive terminal prompt, or
// (the default failure) neither configured.
func readPassword(ctx context.Context, pc *barpass.ProcessContext, f runFlags) (*barpass.Password, error) {
	switch {
	case f.passwordFile != "":
		data, err := os.ReadFile(f.passwordFile)
		if err != nil {
			return nil, fmt.Errorf("read password file: %w", err)
		}
		line := strings.SplitN(string(data), "\n", 2)[0]
		line = strings.TrimRight(line, "\r")
		return barpass.FromString(pc, line)

	case f.askPass:
		out := bufio.NewWriter(os.Stderr)
		in := bufio.NewReader(os.Stdin)
		return barpass.FromTTY(pc, int(os.Stdin.Fd()), "Encryption password: ", out, in, 0)

	default:
		return nil, fmt.Errorf("encryption %q requires --password-file or --ask-pass", f.encryption)
	}
}
