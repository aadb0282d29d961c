package pipeline

import "testing"

func TestStageTransitions(t *testing.T) {
	allowed := []struct{ from, to Stage }{
		{StageChunking, StageSynthesizing},
		{StageSynthesizing, StageAssembling},
		{StageAssembling, StageCleaningUp},
		{StageAssembling, StageDelivering},
		{StageDelivering, StageCleaningUp},
		{StageCleaningUp, StageDone},
		{StageChunking, StageFailed},
		{StageCleaningUp, StageFailed},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Stage }{
		{StageChunking, StageAssembling},
		{StageSynthesizing, StageDone},
		{StageDone, StageFailed},
		{StageFailed, StageChunking},
		{StageDelivering, StageAssembling},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}
