package command

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/hamesh-go/internal/core/service"
)

// UserCommand returns the listener user helper commands.
func UserCommand() *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Listener user helpers",
		Subcommands: []*cli.Command{
			{
				Name:  "hash-password",
				Usage: "Read a password on stdin and print its security.users password_hash",
				Action: hashPassword,
			},
		},
	}
}

func hashPassword(c *cli.Context) error {
	password, err := readPassword(c)
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("empty password")
	}
	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, hash)
	return err
}

// readPassword reads the first line of the app reader.
func readPassword(c *cli.Context) (string, error) {
	reader := c.App.Reader
	if reader == nil {
		reader = os.Stdin
	}
	line, err := bufio.NewReader(reader).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
