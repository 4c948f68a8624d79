package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"filesift/internal/llm"
	"filesift/internal/rag"
)

var flagAskK int

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask questions about the indexed files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		r, closeFn, err := newRetriever(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		k := flagAskK
		if !cmd.Flags().Changed("k") {
			k = cfg.Search.TopK
		}
		asker := rag.Asker{Retriever: r, Chat: newChat(), K: k}

		var history []llm.Message
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("filesift ask (type /help for commands, /exit to quit)")
		fmt.Println()

		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			question := strings.TrimSpace(scanner.Text())
			if question == "" {
				continue
			}

			switch question {
			case "/exit", "/quit":
				fmt.Println("Goodbye.")
				return nil
			case "/clear":
				history = nil
				fmt.Println("Conversation cleared.")
				continue
			case "/help":
				fmt.Println("Commands:")
				fmt.Println("  /clear  - clear conversation history")
				fmt.Println("  /exit   - quit")
				fmt.Println("  /help   - show this help")
				continue
			}

			fmt.Println("[Searching...]")

			answer, passages, err := asker.Ask(ctx, question, history)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}

			fmt.Println()
			fmt.Println(answer)
			fmt.Println()
			for _, p := range passages {
				fmt.Printf("  - %s\n", p.Source)
			}
			fmt.Println()

			// Keep the last 10 turns.
			history = append(history, llm.Message{Role: "user", Content: question})
			history = append(history, llm.Message{Role: "assistant", Content: answer})
			if len(history) > 20 {
				history = history[len(history)-20:]
			}
		}

		return scanner.Err()
	},
}

func init() {
	askCmd.Flags().IntVar(&flagAskK, "k", 5, "number of passages to retrieve per question")
	askCmd.Flags().StringVarP(&flagWorkspace, "workspace", "w", defaultWorkspace, "search workspace folder")
	askCmd.Flags().StringVar(&flagCatalog, "catalog", "", "answer from a SQLite catalog instead of the workspace index")
	rootCmd.AddCommand(askCmd)
}
