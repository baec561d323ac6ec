package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"genie/internal/domain/task"
)

var (
	promptColor = color.New(color.FgCyan).SprintFunc()
	errorColor  = color.New(color.FgRed).SprintFunc()
	faintColor  = color.New(color.FgHiBlack).SprintFunc()
)

const chatHelp = `## Commands

- ` + "`tasks`" + ` - list your tasks and steps
- ` + "`next`" + ` - pick the next step and book it
- ` + "`progress`" + ` - show completion figures
- ` + "`energy <1-10>`" + ` - record how energetic you feel right now
- ` + "`help`" + ` - show this message
- ` + "`exit`" + ` - leave

Anything else is treated as a request: add tasks, mark work done,
move deadlines, or ask what to do next.`

func newChatCommand(opts *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			app, err := newApplication(cfg)
			if err != nil {
				return err
			}
			defer app.close(context.Background())
			return runChat(app, userID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "default", "user the session belongs to")
	return cmd
}

func runChat(app *application, userID string) error {
	fmt.Println("Genie - tell me what you want to get done.")
	fmt.Println(faintColor("Type 'help' for commands, 'exit' to leave."))
	fmt.Println()

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            promptColor("> "),
		HistoryFile:       filepath.Join(homeDir, ".genie-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	ctx := context.Background()
	for {
		input, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(input) == 0 {
				break
			}
			continue
		}
		if err == io.EOF {
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch {
		case input == "exit" || input == "quit" || input == "q":
			return nil
		case input == "help":
			fmt.Println(string(markdown.Render(chatHelp, 100, 2)))
			continue
		case input == "tasks":
			chatTasks(ctx, app, userID)
			continue
		case input == "next":
			chatNext(ctx, app, userID)
			continue
		case input == "progress":
			chatProgress(ctx, app, userID)
			continue
		case strings.HasPrefix(input, "energy "):
			chatEnergy(ctx, app, userID, strings.TrimPrefix(input, "energy "))
			continue
		}

		outcome, err := app.pipeline.HandleUtterance(ctx, userID, input)
		if err != nil {
			fmt.Println(errorColor(err.Error()))
			continue
		}
		fmt.Print(app.renderer.Outcome(outcome, nil))
		fmt.Println()
	}
	return nil
}

func chatTasks(ctx context.Context, app *application, userID string) {
	tasks, err := app.store.ListTasks(ctx, userID)
	if err != nil {
		fmt.Println(errorColor(err.Error()))
		return
	}
	fmt.Print(app.renderer.TaskList(tasks))
}

func chatNext(ctx context.Context, app *application, userID string) {
	rec, err := app.pipeline.Recommend(ctx, userID)
	if err != nil {
		fmt.Println(errorColor(err.Error()))
		return
	}
	fmt.Print(app.renderer.Recommendation(rec, nil))
}

func chatProgress(ctx context.Context, app *application, userID string) {
	analytics, err := app.store.Analytics(ctx, userID)
	if err != nil {
		fmt.Println(errorColor(err.Error()))
		return
	}
	fmt.Print(app.renderer.Analytics(analytics))
}

func chatEnergy(ctx context.Context, app *application, userID, raw string) {
	level, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || level < 1 || level > 10 {
		fmt.Println(errorColor("energy takes a number from 1 to 10"))
		return
	}
	err = app.pipeline.RecordFeedback(ctx, userID, task.Feedback{
		Kind:   task.FeedbackEnergy,
		Energy: level,
	})
	if err != nil {
		fmt.Println(errorColor(err.Error()))
		return
	}
	fmt.Println(faintColor("Noted."))
}
