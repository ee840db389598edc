package cli

import (
	"fmt"
	"io"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newBoardCmd(a *app) *cobra.Command {
	var spec pipeline.FilterSpec
	var mode, stage, scope string
	var clients []string
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show tasks grouped by stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, actor, err := a.session(cmd)
			if err != nil {
				return err
			}
			viewMode, ok := pipeline.ParseViewMode(mode)
			if !ok {
				return errors.Errorf("unknown view mode %q (want simplified or detailed)", mode)
			}
			if len(clients) > 0 {
				boards, err := svc.Boards(cmd.Context(), clients, viewMode, actor)
				if err != nil {
					return err
				}
				return a.print(cmd, boards, func(w io.Writer) { writeBoards(w, boards) })
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
			board, err := svc.Board(cmd.Context(), spec, viewMode, actor)
			if err != nil {
				return err
			}
			return a.print(cmd, board, func(w io.Writer) { fmt.Fprintln(w, renderBoard(board)) })
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "simplified", "simplified or detailed")
	cmd.Flags().StringVar(&spec.Search, "search", "", "Case-insensitive text in title, description or code")
	cmd.Flags().StringVar(&spec.ClientID, "client", "", "Only tasks of this client")
	cmd.Flags().StringVar(&stage, "stage", "", "Only tasks in this stage")
	cmd.Flags().StringVar(&scope, "scope", "", "all, qa_queue, mine or active")
	cmd.Flags().StringSliceVar(&clients, "clients", nil, "Build one board per client ID")
	return cmd
}
