package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/msger/internal/client"
	"github.com/Tyrowin/msger/internal/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		address     string
		username    string
		secret      string
		downloadDir string
	)

	cmd := &cobra.Command{
		Use:   "msger-client",
		Short: "Chat with other msger clients from the terminal",
		Long: `Lines typed on stdin are sent as chat messages.
  /file <path>  send a file
  /quit         disconnect`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := client.Connect(ctx, client.Options{
				Address:  address,
				Username: username,
				Secret:   secret,
			})
			if err != nil {
				return err
			}
			defer conn.Close()

			go printIncoming(cmd.OutOrStdout(), conn, downloadDir)
			return readInput(ctx, cmd.InOrStdin(), conn)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&address, "server", "s", "ws://127.0.0.1:2004", "server URL")
	flags.StringVarP(&username, "username", "u", "", "display name")
	flags.StringVarP(&secret, "secret", "a", "", "shared secret configured on the server")
	flags.StringVarP(&downloadDir, "download-dir", "d", "", "directory to save received files into")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

func readInput(ctx context.Context, in io.Reader, conn *client.Conn) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return conn.Disconnect()
		case line, ok := <-lines:
			if !ok {
				return conn.Disconnect()
			}
			done, err := handleLine(conn, line)
			if err != nil || done {
				return err
			}
		}
	}
}

func handleLine(conn *client.Conn, line string) (bool, error) {
	switch {
	case line == "/quit":
		return true, conn.Disconnect()
	case strings.HasPrefix(line, "/file "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/file "))
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot read %s: %v\n", path, err)
			return false, nil
		}
		return false, conn.SendFile(filepath.Base(path), data)
	case strings.TrimSpace(line) == "":
		return false, nil
	default:
		return false, conn.SendText(line)
	}
}

func printIncoming(out io.Writer, conn *client.Conn, downloadDir string) {
	for item := range conn.Messages() {
		if item.Err != nil {
			if errors.Is(item.Err, protocol.ErrDecode) {
				fmt.Fprintf(out, "! unreadable message: %v\n", item.Err)
				continue
			}
			fmt.Fprintf(out, "! connection error: %v\n", item.Err)
			continue
		}

		switch c := item.Message.Contents.(type) {
		case protocol.Text:
			fmt.Fprintf(out, "[%s] %s\n", item.Message.Author, string(c))
		case protocol.File:
			fmt.Fprintf(out, "[%s] sent file %s (%d bytes)\n", item.Message.Author, c.Name, len(c.Bytes))
			if downloadDir != "" {
				saveFile(out, downloadDir, c)
			}
		}
	}
	fmt.Fprintln(out, "! disconnected")
}

func saveFile(out io.Writer, dir string, f protocol.File) {
	path := filepath.Join(dir, filepath.Base(f.Name))
	if err := os.WriteFile(path, f.Bytes, 0o600); err != nil {
		fmt.Fprintf(out, "! cannot save %s: %v\n", path, err)
		return
	}
	fmt.Fprintf(out, "  saved to %s\n", path)
}
