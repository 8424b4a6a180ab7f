package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"grimm.is/zedctl/internal/auth"
)

// RunHashPassword prints a bcrypt hash for the admin block of the
// config file. The password comes from the first argument or, when
// omitted, from stdin.
func RunHashPassword(args []string) error {
	var password string
	if len(args) > 0 {
		password = args[0]
	} else {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
