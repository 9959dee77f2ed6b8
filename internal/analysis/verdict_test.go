package analysis

import "testing"

func TestParseVerdictLeadingToken(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   Verdict
	}{
		{"plain calm", "CALM the move tracks broad market beta.", VerdictCalm},
		{"plain elevated", "ELEVATED: unusual volume accompanies the move.", VerdictElevated},
		{"plain critical", "CRITICAL. Exchange outage rumors are circulating.", VerdictCritical},
		{"lowercase token", "calm\nNothing noteworthy.", VerdictCalm},
		{"token with punctuation", "CRITICAL, liquidations cascading", VerdictCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseVerdict(tc.output); got != tc.want {
				t.Fatalf("期望 %s, 实际 %s", tc.want, got)
			}
		})
	}
}

func TestParseVerdictKeywordFallback(t *testing.T) {
	if got := ParseVerdict("The situation looks critical given the funding rates."); got != VerdictCritical {
		t.Fatalf("正文含 CRITICAL 应回落判定为 critical, 实际 %s", got)
	}
	if got := ParseVerdict("Overall calm; no follow-through expected."); got != VerdictCalm {
		t.Fatalf("正文含 CALM 应回落判定为 calm, 实际 %s", got)
	}
}

func TestParseVerdictUnparseableDefaultsElevated(t *testing.T) {
	for _, output := range []string{"", "   ", "模型没有遵循格式要求。"} {
		if got := ParseVerdict(output); got != VerdictElevated {
			t.Fatalf("无法解析的输出应判定为 elevated, 实际 %s (输入 %q)", got, output)
		}
	}
}
