package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/ignatij/taskflow/pkg/service"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newTaskCmd(a *app) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Create, move and inspect tasks",
	}
	taskCmd.AddCommand(
		newCreateCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newTransitionCmd(a),
		newFailQACmd(a),
		newStageActionCmd(a, "pass-qa", "Approve a task under review", (*service.FulfillmentService).PassQA),
		newStageActionCmd(a, "deliver", "Deliver QA-approved work to the client", (*service.FulfillmentService).Deliver),
		newAssignCmd(a),
		newNoteCmd(a),
		newHistoryCmd(a),
		newDeleteCmd(a),
	)
	return taskCmd
}

// expectOption turns --expect into a stale-state guard.
func expectOption(raw string) ([]service.TransitionOption, error) {
	if raw == "" {
		return nil, nil
	}
	stage, ok := models.ParseStage(raw)
	if !ok {
		return nil, errors.Errorf("unknown stage %q for --expect", raw)
	}
	return []service.TransitionOption{service.WithExpectedStage(stage)}, nil
}

func (a *app) printTask(cmd *cobra.Command, verb string, t models.Task) error {
	return a.print(cmd, t, func(w io.Writer) {
		fmt.Fprintf(w, "%s task %s (%s), now %s\n", verb, t.Code, t.ID, t.Stage)
	})
}

func newCreateCmd(a *app) *cobra.Command {
	var req service.NewTask
	var priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record a new client work request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			req.Priority = models.Priority(priority)
			if req.ClientID == "" && actor.Role == models.ClientRole {
				req.ClientID = actor.ID
			}
			task, err := svc.CreateTask(cmd.Context(), req, actor)
			if err != nil {
				return errors.Wrap(err, "failed to create task")
			}
			return a.printTask(cmd, "Created", task)
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Short summary (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Free text brief")
	cmd.Flags().StringVar(&priority, "priority", "", "low, normal, high or urgent (default normal)")
	cmd.Flags().StringVar(&req.Category, "category", "", "Type tag, e.g. seo or web")
	cmd.Flags().StringVar(&req.ClientID, "client", "", "Owning client ID (defaults to the actor for clients)")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var spec pipeline.FilterSpec
	var stage, scope string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to the actor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			if stage != "" {
				s, ok := models.ParseStage(stage)
				if !ok {
					return errors.Errorf("unknown stage %q", stage)
				}
				spec.Stage = s
			}
			parsed, ok := pipeline.ParseScope(scope)
			if !ok {
				return errors.Errorf("unknown scope %q (want all, qa_queue, mine or active)", scope)
			}
			spec.Scope = parsed
			tasks, err := svc.ListTasks(cmd.Context(), spec, actor)
			if err != nil {
				return errors.Wrap(err, "failed to list tasks")
			}
			if limit > 0 && limit < len(tasks) {
				tasks = tasks[:limit]
			}
			return a.print(cmd, tasks, func(w io.Writer) {
				if len(tasks) == 0 {
					fmt.Fprintf(w, "No tasks found.\n")
					return
				}
				fmt.Fprintf(w, "Tasks:\n")
				for _, t := range tasks {
					writeTaskLine(w, t)
				}
			})
		},
	}
	cmd.Flags().StringVar(&spec.Search, "search", "", "Case-insensitive text in title, description or code")
	cmd.Flags().StringVar(&spec.ClientID, "client", "", "Only tasks of this client")
	cmd.Flags().StringVar(&stage, "stage", "", "Only tasks in this stage")
	cmd.Flags().StringVar(&scope, "scope", "", "all, qa_queue, mine or active")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of tasks to show")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			task, err := svc.GetTask(cmd.Context(), args[0])
			if err == nil && actor.Role == models.ClientRole && task.ClientID != actor.ID {
				err = errors.Wrapf(pipeline.ErrTaskNotFound, "task %s", args[0])
			}
			if err != nil {
				return err
			}
			return a.print(cmd, task, func(w io.Writer) { writeTask(w, task) })
		},
	}
}

func newTransitionCmd(a *app) *cobra.Command {
	var note, expect string
	cmd := &cobra.Command{
		Use:   "transition [id] [stage]",
		Short: "Move a task to another stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			target, ok := models.ParseStage(args[1])
			if !ok {
				return errors.Errorf("unknown stage %q", args[1])
			}
			opts, err := expectOption(expect)
			if err != nil {
				return err
			}
			task, err := svc.Transition(cmd.Context(), args[0], target, actor, append(opts, service.WithNote(note))...)
			if err != nil {
				return err
			}
			return a.printTask(cmd, "Moved", task)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Note recorded with the history entry")
	cmd.Flags().StringVar(&expect, "expect", "", "Fail if the task is no longer in this stage")
	return cmd
}

func newFailQACmd(a *app) *cobra.Command {
	var feedback, expect string
	var evidence []string
	var internal bool
	cmd := &cobra.Command{
		Use:   "fail-qa [id]",
		Short: "Reject a task under review and send it back to development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			opts, err := expectOption(expect)
			if err != nil {
				return err
			}
			if internal {
				opts = append(opts, service.Internal())
			}
			task, err := svc.FailQA(cmd.Context(), args[0], feedback, evidence, actor, opts...)
			if err != nil {
				return err
			}
			return a.print(cmd, task, func(w io.Writer) {
				fmt.Fprintf(w, "Sent task %s back for revision %d\n", task.Code, task.RevisionCount)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "What needs fixing (required)")
	cmd.Flags().StringSliceVar(&evidence, "evidence", nil, "Evidence URLs, repeatable or comma separated")
	cmd.Flags().BoolVar(&internal, "internal", false, "Hide the feedback from the client")
	cmd.Flags().StringVar(&expect, "expect", "", "Fail if the task is no longer in this stage")
	return cmd
}

type stageAction func(s *service.FulfillmentService, ctx context.Context, taskID string, actor models.Actor, opts ...service.TransitionOption) (models.Task, error)

func newStageActionCmd(a *app, use, short string, action stageAction) *cobra.Command {
	var note, expect string
	cmd := &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			opts, err := expectOption(expect)
			if err != nil {
				return err
			}
			task, err := action(svc, cmd.Context(), args[0], actor, append(opts, service.WithNote(note))...)
			if err != nil {
				return err
			}
			return a.printTask(cmd, "Moved", task)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Note recorded with the history entry")
	cmd.Flags().StringVar(&expect, "expect", "", "Fail if the task is no longer in this stage")
	return cmd
}

func newAssignCmd(a *app) *cobra.Command {
	var developer, reviewer string
	cmd := &cobra.Command{
		Use:   "assign [id]",
		Short: "Set the developer or reviewer of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			var devID, revID *string
			if cmd.Flags().Changed("developer") {
				devID = &developer
			}
			if cmd.Flags().Changed("reviewer") {
				revID = &reviewer
			}
			if devID == nil && revID == nil {
				return errors.New("--developer or --reviewer is required")
			}
			task, err := svc.Assign(cmd.Context(), args[0], devID, revID, actor)
			if err != nil {
				return err
			}
			return a.print(cmd, task, func(w io.Writer) {
				fmt.Fprintf(w, "Assigned task %s: developer %s, reviewer %s\n", task.Code, deref(task.DeveloperID), deref(task.ReviewerID))
			})
		},
	}
	cmd.Flags().StringVar(&developer, "developer", "", "Developer ID (empty clears)")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "QA reviewer ID (empty clears)")
	return cmd
}

func newNoteCmd(a *app) *cobra.Command {
	var internal bool
	cmd := &cobra.Command{
		Use:   "note [id] [message]",
		Short: "Add a note to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			note, err := svc.AddNote(cmd.Context(), args[0], actor, args[1], internal)
			if err != nil {
				return err
			}
			return a.print(cmd, note, func(w io.Writer) {
				fmt.Fprintf(w, "Added note %s to task %s\n", note.ID, args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&internal, "internal", false, "Hide the note from the client")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var activity bool
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show the stage history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			if activity {
				items, err := svc.Activity(cmd.Context(), args[0], actor)
				if err != nil {
					return err
				}
				return a.print(cmd, items, func(w io.Writer) { writeActivity(w, items) })
			}
			entries, err := svc.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd, entries, func(w io.Writer) { writeHistory(w, entries) })
		},
	}
	cmd.Flags().BoolVar(&activity, "activity", false, "Merge visible notes into the history")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Remove a task with its notes and history (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			if err := svc.DeleteTask(cmd.Context(), args[0], actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
			return nil
		},
	}
}
