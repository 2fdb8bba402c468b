package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/formwise-ai/advisor/internal/agent/graph"
	"github.com/formwise-ai/advisor/internal/agent/model"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the advisor from the terminal",
	Long: `Sends one message when given as arguments, otherwise reads messages line by line
until EOF or "exit". The thread is checkpointed like any HTTP conversation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logx.Warn().Err(err).Msg("error releasing resources")
			}
		}()

		session := chatSession{runner: a.runner, out: cmd.OutOrStdout()}
		session.threadID, _ = cmd.Flags().GetString("thread")
		session.userID, _ = cmd.Flags().GetString("user")
		session.businessID, _ = cmd.Flags().GetString("business")
		session.model, _ = cmd.Flags().GetString("model")
		if session.threadID == "" {
			session.threadID = uuid.NewString()
		}

		if len(args) > 0 {
			return session.send(cmd.Context(), strings.Join(args, " "))
		}
		return session.repl(cmd.Context(), cmd.InOrStdin())
	},
}

type chatSession struct {
	runner     *graph.Runner
	out        io.Writer
	threadID   string
	userID     string
	businessID string
	model      string
}

func (c *chatSession) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(c.out, "thread %s (type \"exit\" to quit)\n", c.threadID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := c.send(ctx, line); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func (c *chatSession) send(ctx context.Context, text string) error {
	in := model.NewConversationState(c.threadID)
	in.UserID = c.userID
	in.BusinessID = c.businessID
	in.LLM = model.LLMSelection{Model: c.model}
	in.Messages = []*schema.Message{schema.UserMessage(text)}

	out, err := c.runner.Invoke(ctx, in)
	if err != nil {
		return err
	}

	reply := ""
	if m := out.LastAssistantMessage(); m != nil {
		reply = m.Content
	}
	fmt.Fprintf(c.out, "\n[%s · %s %.2f · %d tokens]\n%s\n\n",
		out.ActiveAgent, out.Intent, out.IntentConfidence, out.TokensUsed, reply)
	return nil
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("thread", "", "Thread ID to resume (a new one is generated when empty)")
	chatCmd.Flags().String("user", "", "User ID whose business profile the specialists may load")
	chatCmd.Flags().String("business", "", "Business ID to attach to the thread")
	chatCmd.Flags().String("model", "", "Response model override")
}
