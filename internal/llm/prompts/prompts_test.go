package prompts

import (
	"strings"
	"testing"
)

func TestBuildAdvicePrompt(t *testing.T) {
	if err := Load(FS); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name    string
		variant Variant
		data    AdviceData
		want    []string
		notWant []string
	}{
		{
			name:    "brief",
			variant: VariantBrief,
			data:    AdviceData{Level: "A2", LevelLabel: "A2 (Elementary)", CorrectAnswers: 8, TotalQuestions: 20},
			want:    []string{"8 of 20", "A2 (Elementary)", "Write in English"},
		},
		{
			name:    "standard beginner",
			variant: VariantStandard,
			data:    AdviceData{Level: "A1", LevelLabel: "A1", CorrectAnswers: 3, TotalQuestions: 20, Language: "Spanish"},
			want:    []string{"basic vocabulary", "Write in Spanish"},
		},
		{
			name:    "standard intermediate",
			variant: VariantStandard,
			data:    AdviceData{Level: "B1", LevelLabel: "B1", CorrectAnswers: 13, TotalQuestions: 20},
			notWant: []string{"basic vocabulary"},
		},
		{
			name:    "detailed upper",
			variant: VariantDetailed,
			data:    AdviceData{Level: "B2", LevelLabel: "B2", CorrectAnswers: 19, TotalQuestions: 20},
			want:    []string{"four-week", "authentic materials"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildAdvicePrompt(tt.variant, tt.data)
			if err != nil {
				t.Fatalf("BuildAdvicePrompt: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("prompt should contain %q", w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("prompt should not contain %q", w)
				}
			}
		})
	}
}

func TestBuildAdvicePromptInvalidVariant(t *testing.T) {
	if err := Load(FS); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := BuildAdvicePrompt("verbose", AdviceData{}); err == nil {
		t.Error("expected error for invalid variant")
	}
}

func TestIsValidVariant(t *testing.T) {
	for _, v := range []string{"brief", "standard", "detailed"} {
		if !IsValidVariant(v) {
			t.Errorf("IsValidVariant(%q) = false", v)
		}
	}
	if IsValidVariant("strict") {
		t.Error("IsValidVariant(strict) = true")
	}
}
