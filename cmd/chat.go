package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions about the decision log interactively",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}

	manager, err := a.SessionManager()
	if err != nil {
		return err
	}

	sess, greeting := manager.Start()
	defer manager.End(sess.ID)

	fmt.Println(greeting)
	fmt.Println(`Type your question, or "/bye" to exit.`)
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			// EOF (Ctrl+D)
			fmt.Println("\nGoodbye.")
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/bye" || input == "/exit" || input == "/quit" {
			fmt.Println("Goodbye.")
			break
		}

		stream, err := manager.Handle(ctx, sess.ID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		for token := range stream.Tokens() {
			fmt.Print(token)
		}
		fmt.Println()
		fmt.Println()

		if ctx.Err() != nil {
			break
		}
	}

	return scanner.Err()
}
