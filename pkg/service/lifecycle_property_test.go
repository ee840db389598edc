package service_test

import (
	"context"
	"testing"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/service"
	"github.com/ignatij/taskflow/pkg/storage"
	"pgregory.net/rapid"
)

var roles = []models.Role{
	models.AdminRole, models.ManagerRole, models.DeveloperRole, models.QARole, models.ClientRole,
}

// TestProperty_TaskLifecycle drives one task with random requests from random
// roles and checks the lifecycle guarantees after every call.
func TestProperty_TaskLifecycle(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store := storage.NewMemoryStore()
		svc := service.NewFulfillmentService(store, logger{})
		task, err := svc.CreateTask(ctx, service.NewTask{Title: "Property task", ClientID: client.ID}, admin)
		if err != nil {
			rt.Fatalf("CreateTask failed: %v", err)
		}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			before, err := svc.GetTask(ctx, task.ID)
			if err != nil {
				rt.Fatalf("GetTask failed: %v", err)
			}
			historyBefore, err := svc.History(ctx, task.ID)
			if err != nil {
				rt.Fatalf("History failed: %v", err)
			}

			actor := models.Actor{
				ID:   "actor",
				Role: rapid.SampledFrom(roles).Draw(rt, "role"),
			}
			op := rapid.SampledFrom([]string{"transition", "fail_qa", "deliver"}).Draw(rt, "op")
			target := rapid.SampledFrom(models.Stages).Draw(rt, "target")

			switch op {
			case "transition":
				_, err = svc.Transition(ctx, task.ID, target, actor)
			case "fail_qa":
				_, err = svc.FailQA(ctx, task.ID, "needs work", nil, actor)
			case "deliver":
				_, err = svc.Deliver(ctx, task.ID, actor)
			}

			after, getErr := svc.GetTask(ctx, task.ID)
			if getErr != nil {
				rt.Fatalf("GetTask failed: %v", getErr)
			}
			history, histErr := svc.History(ctx, task.ID)
			if histErr != nil {
				rt.Fatalf("History failed: %v", histErr)
			}

			if err != nil {
				if after.Stage != before.Stage || after.RevisionCount != before.RevisionCount {
					rt.Fatalf("rejected %s changed the task: %s/%d -> %s/%d",
						op, before.Stage, before.RevisionCount, after.Stage, after.RevisionCount)
				}
				if len(history) != len(historyBefore) {
					rt.Fatalf("rejected %s wrote %d history entries", op, len(history)-len(historyBefore))
				}
				continue
			}

			failed := op == "fail_qa" || (op == "transition" && target == models.QAFailedStage)
			wantRevisions := before.RevisionCount
			if failed {
				wantRevisions++
			}
			if after.RevisionCount != wantRevisions {
				rt.Fatalf("%s: revision_count %d -> %d, want %d", op, before.RevisionCount, after.RevisionCount, wantRevisions)
			}

			if after.Stage.Rank() < before.Stage.Rank() {
				revision := after.Stage == models.InProgressStage &&
					(before.Stage == models.QAFailedStage || op == "fail_qa")
				if !revision {
					rt.Fatalf("%s regressed task from %s to %s", op, before.Stage, after.Stage)
				}
			}

			if len(history) <= len(historyBefore) {
				rt.Fatalf("%s accepted without a history entry", op)
			}
			if last := history[len(history)-1]; last.ToStage != after.Stage {
				rt.Fatalf("last history entry goes to %s, task is in %s", last.ToStage, after.Stage)
			}
		}
	})
}
