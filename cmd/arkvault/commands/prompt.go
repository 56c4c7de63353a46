package commands

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/84adam/arkvault/crypto"
)

var stdin = bufio.NewReader(os.Stdin)

// readPassword prompts without echo on a terminal and reads a line from a
// pipe otherwise. Callers zero the result.
func readPassword(prompt string) ([]byte, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return nil, err
		}
		return password, nil
	}

	line, err := stdin.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// readNewPassword asks twice and prints strength advice. Weak passwords are
// allowed; OPAQUE keeps them off the server either way.
func readNewPassword(prompt string) ([]byte, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return nil, err
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZeroBytes(confirm)
	if !bytes.Equal(password, confirm) {
		crypto.SecureZeroBytes(password)
		return nil, errors.New("passwords do not match")
	}

	result := crypto.ValidateAccountPassword(string(password))
	if !result.MeetsRequirement {
		color.Yellow("[-] Weak password (entropy %.0f bits, score %d/4)", result.Entropy, result.StrengthScore)
		for _, s := range result.Suggestions {
			color.Yellow("    %s", s)
		}
	}
	return password, nil
}
